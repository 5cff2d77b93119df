package store

import (
	"time"

	"confluence-paper-trader/internal/core/model"
)

// MaxValidityMinutes 信号有效期上限（分钟）
const MaxValidityMinutes = 720

// TrendTTL 趋势快照有效期
const TrendTTL = 240 * time.Minute

// roleMultiplier 周期角色系数：4H 为 regime，1H 为 bias
func roleMultiplier(tf model.Timeframe) float64 {
	switch tf {
	case model.TF4H:
		return 2.0
	case model.TF1H:
		return 1.5
	default:
		return 1.0
	}
}

func qualityMultiplier(q model.Quality) float64 {
	switch q {
	case model.QualityExtreme:
		return 1.5
	case model.QualityMedium:
		return 0.75
	default:
		return 1.0
	}
}

func sessionMultiplier(s model.Session) float64 {
	switch s {
	case model.SessionOpen:
		return 0.8
	case model.SessionPowerHour:
		return 0.7
	case model.SessionAfterHours:
		return 0.5
	default:
		return 1.0
	}
}

// ValidityMinutes 计算信号有效期（分钟）
// 结果夹在 [周期分钟数, 720] 之间；未知周期返回 0。
func ValidityMinutes(tf model.Timeframe, q model.Quality, s model.Session) float64 {
	base := float64(tf.Minutes())
	if base == 0 {
		return 0
	}
	v := base * roleMultiplier(tf) * qualityMultiplier(q) * sessionMultiplier(s)
	if v < base {
		v = base
	}
	if v > MaxValidityMinutes {
		v = MaxValidityMinutes
	}
	return v
}

// SignalExpiry 返回信号过期时间
// 参数 received: 信号未带时间戳时使用的接收时间
func SignalExpiry(sig *model.Signal, received time.Time) time.Time {
	start := sig.Timestamp
	if start.IsZero() {
		start = received
	}
	minutes := ValidityMinutes(sig.Timeframe, sig.Quality, sig.EffectiveSession())
	return start.Add(time.Duration(minutes * float64(time.Minute)))
}

// DefaultDecayMinutes 阶段默认衰减时长
func DefaultDecayMinutes(tf model.Timeframe) int {
	switch tf {
	case model.TF15M:
		return 45
	case model.TF30M:
		return 90
	case model.TF1H:
		return 180
	case model.TF4H:
		return 720
	case model.TF1D:
		return 1440
	default:
		return 60
	}
}

// PhaseExpiry 返回阶段过期时间；DecayMinutes 为 0 时使用周期默认值
func PhaseExpiry(p *model.Phase, received time.Time) time.Time {
	start := p.Timestamp
	if start.IsZero() {
		start = received
	}
	decay := p.DecayMinutes
	if decay <= 0 {
		decay = DefaultDecayMinutes(p.Timeframe)
	}
	return start.Add(time.Duration(decay) * time.Minute)
}
