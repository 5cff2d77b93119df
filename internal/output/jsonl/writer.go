// Package jsonl 实现异步 JSONL 文件写入。
// 事件流水、账本审计镜像与死信队列都通过它落盘；
// 编码与文件 I/O 在后台 goroutine 完成，调用方只负责投递。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("jsonl writer 已关闭")

// Sink JSONL 输出目标
type Sink interface {
	// Write 异步投递一条记录
	Write(v any) error
	// WriteSync 写入一条记录并 flush，返回编码或 I/O 错误
	WriteSync(v any) error
}

type opType int

const (
	opWrite opType = iota
	opFlush
	opClose
)

type op struct {
	typ   opType
	val   any
	flush bool
	done  chan error
}

// Stats 写入统计
type Stats struct {
	Written int64
	Failed  int64
}

// Writer 异步 JSONL 写入器
type Writer struct {
	path string
	ch   chan op
	log  *zap.Logger
	// errLog 编码/写入失败的日志采样，避免磁盘故障时刷屏
	errLog rate.Sometimes

	written atomic.Int64
	failed  atomic.Int64

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	sendMu sync.Mutex
	wg     sync.WaitGroup
}

// NewWriter 创建 JSONL 写入器
// 参数 path: 输出文件路径，目录不存在时自动创建，文件以追加方式打开
// 参数 bufferSize: 写入缓冲区大小（channel capacity）
func NewWriter(path string, bufferSize int, log *zap.Logger) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path:   path,
		ch:     make(chan op, bufferSize),
		log:    log.Named("jsonl").With(zap.String("path", path)),
		errLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}

	w.wg.Add(1)
	go w.loop(f)

	return w, nil
}

// Path 输出文件路径
func (w *Writer) Path() string {
	return w.path
}

// Write 异步写入一条 JSONL 记录
func (w *Writer) Write(v any) error {
	return w.send(op{typ: opWrite, val: v})
}

// WriteSync 写入并 flush，等待落盘结果
func (w *Writer) WriteSync(v any) error {
	done := make(chan error, 1)
	if err := w.send(op{typ: opWrite, val: v, flush: true, done: done}); err != nil {
		return err
	}
	return <-done
}

// Flush 强制 flush 文件缓冲区
func (w *Writer) Flush() error {
	done := make(chan error, 1)
	if err := w.send(op{typ: opFlush, done: done}); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	return <-done
}

func (w *Writer) send(o op) error {
	if w == nil {
		return fmt.Errorf("writer 为空")
	}
	if w.closed.Load() {
		return ErrClosed
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if w.closed.Load() {
		return ErrClosed
	}
	w.ch <- o
	return nil
}

// Stats 返回写入统计
func (w *Writer) Stats() Stats {
	return Stats{Written: w.written.Load(), Failed: w.failed.Load()}
}

// Close 关闭写入器（会先 flush）
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.sendMu.Lock()
		defer w.sendMu.Unlock()
		done := make(chan error, 1)
		w.ch <- op{typ: opClose, done: done}
		w.closeErr = <-done
		close(w.ch)
	})
	w.wg.Wait()
	return w.closeErr
}

func (w *Writer) loop(f *os.File) {
	defer w.wg.Done()
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20) // 1MB buffer
	reply := func(err error, done chan error) {
		if done != nil {
			done <- err
		}
	}

	for req := range w.ch {
		switch req.typ {
		case opWrite:
			err := w.encode(bw, req.val)
			if err == nil && req.flush {
				err = bw.Flush()
			}
			if err != nil {
				w.failed.Add(1)
				w.errLog.Do(func() {
					w.log.Error("写入 JSONL 失败", zap.Error(err), zap.Int64("failed_total", w.failed.Load()))
				})
			} else {
				w.written.Add(1)
			}
			reply(err, req.done)
		case opFlush:
			reply(bw.Flush(), req.done)
		case opClose:
			reply(bw.Flush(), req.done)
			return
		}
	}
}

func (w *Writer) encode(bw *bufio.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("编码失败: %w", err)
	}
	if _, err := bw.Write(b); err != nil {
		return err
	}
	return bw.WriteByte('\n')
}

// ReadAll 读取 JSONL 文件中的全部行（回放与测试使用）
func ReadAll(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}
