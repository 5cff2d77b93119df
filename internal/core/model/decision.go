package model

// Breakdown 乘数链明细
// 固定字段结构，每个乘数一个字段；WAIT 时保持中性默认值（乘数 1，加成 0）。
type Breakdown struct {
	ConfluenceScore         float64      `json:"confluence_score"`
	ConfluenceMultiplier    float64      `json:"confluence_multiplier"`
	QualityMultiplier       float64      `json:"quality_multiplier"`
	HTFAlignment            HTFAlignment `json:"htf_alignment"`
	HTFAlignmentMultiplier  float64      `json:"htf_alignment_multiplier"`
	RRRatio                 float64      `json:"rr_ratio"`
	RRMultiplier            float64      `json:"rr_multiplier"`
	VolumeMultiplier        float64      `json:"volume_multiplier"`
	TrendStrengthMultiplier float64      `json:"trend_strength_multiplier"`
	SessionMultiplier       float64      `json:"session_multiplier"`
	DayOfWeekMultiplier     float64      `json:"day_of_week_multiplier"`
	PhaseConfidenceBoost    float64      `json:"phase_confidence_boost"`
	PhasePositionBoost      float64      `json:"phase_position_boost"`
	TrendAlignmentBoost     float64      `json:"trend_alignment_boost"`
	// RawMultiplier 钳制前的乘积
	RawMultiplier float64 `json:"raw_multiplier"`
	// FinalMultiplier 钳制到 [0.5, 3.0] 后的乘数
	FinalMultiplier float64 `json:"final_multiplier"`
}

// NeutralBreakdown 返回中性明细
func NeutralBreakdown() Breakdown {
	return Breakdown{
		ConfluenceMultiplier:    1,
		QualityMultiplier:       1,
		HTFAlignment:            HTFNone,
		HTFAlignmentMultiplier:  1,
		RRMultiplier:            1,
		VolumeMultiplier:        1,
		TrendStrengthMultiplier: 1,
		SessionMultiplier:       1,
		DayOfWeekMultiplier:     1,
		RawMultiplier:           1,
		FinalMultiplier:         1,
	}
}

// Decision 决策引擎输出，创建后不再修改
type Decision struct {
	Verdict       Verdict `json:"decision"`
	Reason        string  `json:"reason"`
	EngineVersion string  `json:"engine_version"`
	Ticker        string  `json:"ticker"`
	// Direction 多数方向；没有活跃信号时为空
	Direction            Direction `json:"direction,omitempty"`
	ConfluenceScore      float64   `json:"confluence_score"`
	Breakdown            Breakdown `json:"breakdown"`
	RecommendedContracts int       `json:"recommended_contracts"`
	StopLoss             float64   `json:"stop_loss"`
	Target1              float64   `json:"target_1"`
	Target2              float64   `json:"target_2"`
	// Signal 触发信号快照（可能为空）
	Signal *Signal `json:"signal"`
}
