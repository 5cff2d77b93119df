package model

import "time"

// Phase 某标的某周期角色上的市场阶段事件
// 同一 (ticker, role) 只保留一个生效阶段，新事件直接替换旧事件。
type Phase struct {
	Ticker    string    `json:"ticker"`
	Timeframe Timeframe `json:"timeframe"`
	Role      PhaseRole `json:"role"`
	// Name 阶段名称，如 ACCUMULATION / MARKUP
	Name string `json:"name"`
	Bias Bias   `json:"bias"`
	// ConfidenceScore 置信分（0-100）
	ConfidenceScore float64        `json:"confidence_score"`
	Tier            ConfidenceTier `json:"tier"`
	// HTFAligned 是否与更高周期一致
	HTFAligned bool `json:"htf_aligned"`
	// DecayMinutes 衰减时长（分钟），0 表示使用周期默认值
	DecayMinutes int       `json:"decay_minutes,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// PhaseContext 决策时刻各角色的生效阶段
type PhaseContext struct {
	Regime     *Phase `json:"regime,omitempty"`
	Bias       *Phase `json:"bias,omitempty"`
	Setup      *Phase `json:"setup,omitempty"`
	Structural *Phase `json:"structural,omitempty"`
}

// NewPhaseContext 从阶段列表构造上下文（同角色取后出现者）
func NewPhaseContext(phases []Phase) *PhaseContext {
	if len(phases) == 0 {
		return nil
	}
	pc := &PhaseContext{}
	for i := range phases {
		p := phases[i]
		switch p.Role {
		case RoleRegime:
			pc.Regime = &p
		case RoleBias:
			pc.Bias = &p
		case RoleSetup:
			pc.Setup = &p
		case RoleStructural:
			pc.Structural = &p
		}
	}
	return pc
}

// Get 按角色获取阶段
func (pc *PhaseContext) Get(role PhaseRole) *Phase {
	if pc == nil {
		return nil
	}
	switch role {
	case RoleRegime:
		return pc.Regime
	case RoleBias:
		return pc.Bias
	case RoleSetup:
		return pc.Setup
	case RoleStructural:
		return pc.Structural
	default:
		return nil
	}
}

// BiasOf 返回某角色的偏向；缺失时为 NEUTRAL
func (pc *PhaseContext) BiasOf(role PhaseRole) Bias {
	if p := pc.Get(role); p != nil {
		return p.Bias
	}
	return BiasNeutral
}
