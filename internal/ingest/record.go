package ingest

import (
	"context"
	"encoding/json"
	"time"

	"confluence-paper-trader/internal/output/jsonl"
	"confluence-paper-trader/internal/util/timeutil"
)

// Recorded 入站原始信封及接收时间，回放时按 ReceivedAt 驱动时钟
type Recorded struct {
	ReceivedAt time.Time       `json:"received_at"`
	Envelope   json.RawMessage `json:"envelope"`
}

// Record 包装处理函数，先把原始信封写入 sink 再交给 next
// 非法 JSON 不记录（回放时同样会被拒绝），写入失败不影响处理。
func Record(sink jsonl.Sink, clock timeutil.Clock, next func(ctx context.Context, raw []byte) error) func(ctx context.Context, raw []byte) error {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	return func(ctx context.Context, raw []byte) error {
		if json.Valid(raw) {
			env := make(json.RawMessage, len(raw))
			copy(env, raw)
			_ = sink.Write(Recorded{ReceivedAt: clock().UTC(), Envelope: env})
		}
		return next(ctx, raw)
	}
}
