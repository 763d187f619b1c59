package diag

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel 解析日志级别；未知取值回落为 info。
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger 构造结构化日志器：单行 JSON 写入 dir 下的轮转文件（10 MiB），
// 每条事件携带 corr_id 与 RFC3339 UTC 时间戳。返回的 io.Closer 用于关闭底层文件。
func NewLogger(corrID, level, dir string) (zerolog.Logger, io.Closer) {
	sink := NewRotatingFile(dir, 10*1024*1024)
	return newLogger(sink, corrID, level), sink
}

func newLogger(w io.Writer, corrID, level string) zerolog.Logger {
	return zerolog.New(fallbackWriter{primary: w}).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("corr_id", corrID).
		Logger()
}

// fallbackWriter: 主写入失败时后备写 stderr，日志不因文件问题丢失。
type fallbackWriter struct{ primary io.Writer }

func (f fallbackWriter) Write(p []byte) (int, error) {
	if n, err := f.primary.Write(p); err == nil {
		return n, nil
	}
	return os.Stderr.Write(p)
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l     zerolog.Logger
	stage string
	t0    time.Time
	m     *Metrics
}

// Start 记录 start 事件；返回计时器用于 Finish/Fail。m 可为 nil。
func Start(l zerolog.Logger, stage, msg string, m *Metrics) *Timer {
	l.Info().Str("stage", stage).Str("phase", "start").Msg(msg)
	return &Timer{l: l, stage: stage, t0: time.Now(), m: m}
}

// Finish 记录 finish 事件并上报阶段耗时。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil {
		return
	}
	d := time.Since(t.t0)
	t.m.ObserveStage(t.stage, d)
	t.l.Info().Str("stage", t.stage).Str("phase", "finish").
		Int64("dur_ms", d.Milliseconds()).Int64("count", count).Msg(msg)
}

// Fail 记录 error 事件（附分类码）。
func (t *Timer) Fail(msg string, err error) {
	if t == nil {
		return
	}
	t.l.Error().Str("stage", t.stage).Str("phase", "error").
		Str("code", string(Classify(err))).
		Int64("dur_ms", time.Since(t.t0).Milliseconds()).
		Err(err).Msg(msg)
}
