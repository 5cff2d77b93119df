// Package ingest 解析并校验上游推送的信号、阶段、趋势与平仓载荷。
//
// 所有载荷包裹在 {"type": ..., "payload": {...}} 信封中。校验失败返回 *ValidationError，
// 在触达任何存储之前完成。
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"confluence-paper-trader/internal/core/exit"
	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/util/fastparse"
)

// MessageType 信封类型
type MessageType string

const (
	TypeSignal MessageType = "signal"
	TypePhase  MessageType = "phase"
	TypeTrend  MessageType = "trend"
	TypeExit   MessageType = "exit"
)

// Exit 平仓事件
type Exit struct {
	LedgerID string
	Request  exit.Request
}

// Message 解码后的消息，按 Type 只有一个载荷字段非空
type Message struct {
	Type   MessageType
	Signal *model.Signal
	Phase  *model.Phase
	Trend  *model.Trend
	Exit   *Exit
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decoder 载荷解码器，可并发使用
type Decoder struct {
	validate *validator.Validate
}

// NewDecoder 创建解码器
// 校验错误中的字段名使用 JSON 名称。
func NewDecoder() *Decoder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Decoder{validate: v}
}

// Decode 解析信封并按类型分发
func (d *Decoder) Decode(raw []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, newError(KindMalformedEnvelope, "", "信封解析失败: %v", err)
	}
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, newError(KindMalformedEnvelope, "payload", "缺少载荷")
	}
	if payload[0] != '{' {
		return nil, newError(KindMalformedEnvelope, "payload", "载荷必须是 JSON 对象")
	}

	msg := &Message{Type: MessageType(strings.ToLower(strings.TrimSpace(env.Type)))}
	var err error
	switch msg.Type {
	case TypeSignal:
		msg.Signal, err = d.DecodeSignal(payload)
	case TypePhase:
		msg.Phase, err = d.DecodePhase(payload)
	case TypeTrend:
		msg.Trend, err = d.DecodeTrend(payload)
	case TypeExit:
		msg.Exit, err = d.DecodeExit(payload)
	default:
		return nil, newError(KindMalformedEnvelope, "type", "未知的消息类型 %q", env.Type)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// DecodeSignal 解析并校验信号载荷
func (d *Decoder) DecodeSignal(payload []byte) (*model.Signal, error) {
	var p signalPayload
	if err := d.decode(payload, &p); err != nil {
		return nil, err
	}
	p.normalize()
	if err := d.check(&p); err != nil {
		return nil, err
	}
	sig := p.toModel()
	if err := final(sig.Validate()); err != nil {
		return nil, err
	}
	return sig, nil
}

// DecodePhase 解析并校验阶段载荷
func (d *Decoder) DecodePhase(payload []byte) (*model.Phase, error) {
	var p phasePayload
	if err := d.decode(payload, &p); err != nil {
		return nil, err
	}
	p.normalize()
	if err := d.check(&p); err != nil {
		return nil, err
	}
	ph := p.toModel()
	if err := final(ph.Validate()); err != nil {
		return nil, err
	}
	return ph, nil
}

// DecodeTrend 解析并校验趋势载荷
func (d *Decoder) DecodeTrend(payload []byte) (*model.Trend, error) {
	var p trendPayload
	if err := d.decode(payload, &p); err != nil {
		return nil, err
	}
	p.normalize()
	if err := d.check(&p); err != nil {
		return nil, err
	}
	tr := p.toModel()
	if err := final(tr.Validate()); err != nil {
		return nil, err
	}
	return tr, nil
}

// DecodeExit 解析并校验平仓载荷
func (d *Decoder) DecodeExit(payload []byte) (*Exit, error) {
	var p exitPayload
	if err := d.decode(payload, &p); err != nil {
		return nil, err
	}
	p.normalize()
	if err := d.check(&p); err != nil {
		return nil, err
	}
	return p.toModel(), nil
}

// decode JSON 解码并把解码错误归类
func (d *Decoder) decode(payload []byte, v any) error {
	err := json.Unmarshal(payload, v)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		return newError(KindSchemaViolation, typeErr.Field, "类型错误: 期望 %s，得到 %s", typeErr.Type, typeErr.Value)
	case errors.As(err, &syntaxErr):
		return newError(KindMalformedEnvelope, "payload", "载荷不是合法 JSON: %v", err)
	case errors.Is(err, fastparse.ErrNonFinite):
		return newError(KindOutOfRange, "", "%v", err)
	default:
		return newError(KindSchemaViolation, "", "%v", err)
	}
}

// check 执行结构体标签校验，返回第一个失败字段
func (d *Decoder) check(v any) error {
	err := d.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return newError(KindSchemaViolation, "", "%v", err)
	}

	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	kind := KindSchemaViolation
	if isRangeTag(fe.Tag()) && isNumeric(fe.Kind()) {
		kind = KindOutOfRange
	}
	if fe.Param() != "" {
		return newError(kind, field, "违反约束 %s=%s，当前值 %v", fe.Tag(), fe.Param(), fe.Value())
	}
	return newError(kind, field, "违反约束 %s", fe.Tag())
}

// isRangeTag 越界类约束；其余约束视为结构违规
func isRangeTag(tag string) bool {
	switch tag {
	case "gt", "gte", "lt", "lte", "min", "max", "len":
		return true
	default:
		return false
	}
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// final 转换后的领域校验，只可能因非有限数值失败
func final(err error) error {
	if err == nil {
		return nil
	}
	return newError(KindOutOfRange, "", "%v", err)
}

// Validation 判断错误是否为校验错误并返回
func Validation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func (t MessageType) String() string {
	return string(t)
}

