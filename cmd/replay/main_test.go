package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"confluence-paper-trader/internal/config"
	"confluence-paper-trader/internal/core/model"
	"confluence-paper-trader/internal/ledger"
)

const replayInput = `{"received_at":"2024-03-05T17:00:00Z","envelope":{"type":"signal","payload":{"ticker":"SPY","direction":"LONG","timeframe":"4h","quality":"HIGH","ai_score":8,"price":500,"entry":{"price":500,"stop_loss":497,"target_1":506,"target_2":510},"risk":{"amount":300},"timestamp":"2024-03-05T17:00:00Z"}}}
{"received_at":"2024-03-05T17:01:00Z","envelope":{"type":"signal","payload":{"ticker":"SPY","direction":"LONG","timeframe":"1h","quality":"HIGH","ai_score":7,"price":500,"entry":{"price":500,"stop_loss":497,"target_1":506,"target_2":510},"risk":{"amount":300},"timestamp":"2024-03-05T17:01:00Z"}}}
{"received_at":"2024-03-05T18:01:00Z","envelope":{"type":"exit","payload":{"ledger_id":"entry-002","underlying_price":504,"reason":"TARGET_1"}}}
{"received_at":"2024-03-05T18:02:00Z","envelope":{"type":"signal","payload":{"ticker":"SPY"}}}
{"type":"trend","payload":{"ticker":"SPY","price":504,"timeframes":{"3m":{"direction":"BULLISH"},"5m":{"direction":"BULLISH"},"15m":{"direction":"BULLISH"},"30m":{"direction":"BULLISH"},"1h":{"direction":"BULLISH"},"4h":{"direction":"BULLISH"},"1w":{"direction":"BULLISH"},"1mo":{"direction":"BULLISH"}}}}
`

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbound.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimLeft(replayInput, "\n")), 0o644))

	cfg := config.Default()
	cfg.Engine.BaseContracts = 2

	n := 0
	ids := ledger.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("entry-%03d", n)
	})
	h, err := newHarness(context.Background(), cfg, zap.NewNop(), ids)
	require.NoError(t, err)
	defer h.ledger.Close()

	s, err := h.replay(context.Background(), path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 5, s.Lines)
	assert.Equal(t, 4, s.Accepted)
	assert.Equal(t, 1, s.Rejected)
	assert.Zero(t, s.Failed)
	assert.Equal(t, map[model.Verdict]int{model.VerdictWait: 1, model.VerdictExecute: 1}, s.ByVerdict)
	assert.Equal(t, 1, s.Executed)
	assert.Equal(t, 1, s.Closed)
	assert.EqualValues(t, 1, s.EV.Count)

	e, err := h.ledger.Get(context.Background(), "entry-002")
	require.NoError(t, err)
	require.NotNil(t, e.Exit)
	assert.Equal(t, "2024-03-05T18:01:00Z", e.Exit.ExitTime.UTC().Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, "2024-03-05T17:01:00Z", e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
}
