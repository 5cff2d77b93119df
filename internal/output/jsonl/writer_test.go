// Package jsonl 输出模块测试
package jsonl

import (
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestWriter_WriteAndClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "test.jsonl")

	w, err := NewWriter(path, 100, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := w.Write(map[string]any{"i": i}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := 0
	if err := ReadAll(path, func([]byte) error { lines++; return nil }); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if lines != 10 {
		t.Fatalf("lines=%d, want 10", lines)
	}
	if s := w.Stats(); s.Written != 10 || s.Failed != 0 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestWriter_WriteSyncSurfacesEncodeError(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "dead.jsonl"), 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.WriteSync(map[string]float64{"x": math.NaN()}); err == nil {
		t.Fatal("NaN 无法编码，应返回错误")
	}
	if err := w.WriteSync(map[string]int{"x": 1}); err != nil {
		t.Fatalf("WriteSync: %v", err)
	}
	if s := w.Stats(); s.Written != 1 || s.Failed != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestWriter_WriteAfterClose(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "x.jsonl"), 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("关闭后 Flush 应为空操作, got %v", err)
	}
	// 重复关闭
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWriter_RoundTrip_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("写入的记录按顺序原样读回", prop.ForAll(
		func(values []string) bool {
			path := filepath.Join(t.TempDir(), "rt.jsonl")
			w, err := NewWriter(path, 4, nil)
			if err != nil {
				return false
			}
			for _, v := range values {
				if err := w.Write(map[string]string{"v": v}); err != nil {
					return false
				}
			}
			if err := w.Close(); err != nil {
				return false
			}

			i := 0
			err = ReadAll(path, func(line []byte) error {
				var m map[string]string
				if err := json.Unmarshal(line, &m); err != nil {
					return err
				}
				if m["v"] != values[i] {
					return errors.New("顺序或内容不一致")
				}
				i++
				return nil
			})
			return err == nil && i == len(values)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
