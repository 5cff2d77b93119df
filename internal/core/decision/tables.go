package decision

import (
	"time"

	"confluence-paper-trader/internal/core/model"
)

// EngineVersion 查表版本；任何表格改动都必须同步修改此值，回放依赖它对齐历史决策
const EngineVersion = "confluence-2024.1"

const (
	// GateScore 共振分门槛
	GateScore = 60
	// GateAIScore 4H/1H 信号置信分门槛
	GateAIScore = 6.0

	// MinMultiplier 最终乘数下限；钳制前低于此值判定 SKIP
	MinMultiplier = 0.5
	// MaxMultiplier 最终乘数上限
	MaxMultiplier = 3.0
)

// 阶段与趋势加成
const (
	phaseConfidenceBoost  = 0.20
	phasePositionBoost    = 0.10
	phasePositionMinScore = 70.0
	trendStrongBoost      = 0.30
	trendH4AgreementBoost = 0.15
)

// 以下查表均为 switch 函数，运行期不可修改

// confluenceWeight 周期权重（百分点），4H+1H+30M+15M+5M+3M 合计 100
func confluenceWeight(tf model.Timeframe) int {
	switch tf {
	case model.TF4H:
		return 40
	case model.TF1H:
		return 25
	case model.TF30M:
		return 15
	case model.TF15M:
		return 10
	case model.TF5M:
		return 7
	case model.TF3M:
		return 3
	default:
		return 0
	}
}

func confluenceMultiplier(score float64) float64 {
	switch {
	case score >= 90:
		return 2.5
	case score >= 80:
		return 2.0
	case score >= 70:
		return 1.5
	case score >= 60:
		return 1.0
	case score >= 50:
		return 0.7
	default:
		return 0.5
	}
}

func qualityMultiplier(q model.Quality) float64 {
	switch q {
	case model.QualityExtreme:
		return 1.3
	case model.QualityHigh:
		return 1.1
	default:
		return 1.0
	}
}

func htfMultiplier(a model.HTFAlignment) float64 {
	switch a {
	case model.HTFPerfect:
		return 1.3
	case model.HTFGood:
		return 1.15
	case model.HTFWeak:
		return 0.85
	case model.HTFCounter:
		return 0.5
	default:
		return 1.0
	}
}

func rrMultiplier(rr float64) float64 {
	switch {
	case rr >= 5.0:
		return 1.2
	case rr >= 4.0:
		return 1.15
	case rr >= 3.0:
		return 1.1
	case rr >= 2.0:
		return 1.0
	case rr >= 1.5:
		return 0.8
	default:
		return 0.5
	}
}

// volumeMultiplier 量比；<=0 视为上游未提供，按常态处理
func volumeMultiplier(v float64) float64 {
	switch {
	case v <= 0:
		return 1.0
	case v >= 1.5:
		return 1.1
	case v >= 0.8:
		return 1.0
	default:
		return 0.7
	}
}

// trendStrengthMultiplier 趋势强度；<=0 视为上游未提供
func trendStrengthMultiplier(s float64) float64 {
	switch {
	case s <= 0:
		return 1.0
	case s >= 80:
		return 1.2
	case s >= 60:
		return 1.0
	default:
		return 0.8
	}
}

func sessionMultiplier(s model.Session) float64 {
	switch s {
	case model.SessionOpen:
		return 1.1
	case model.SessionMidday:
		return 1.0
	case model.SessionPowerHour:
		return 1.1
	default:
		return 0.6
	}
}

func dayOfWeekMultiplier(wd time.Weekday) float64 {
	switch wd {
	case time.Monday, time.Thursday:
		return 1.0
	case time.Tuesday, time.Wednesday:
		return 1.05
	case time.Friday:
		return 0.9
	default:
		return 0.5
	}
}
