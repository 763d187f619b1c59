package diag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 聚合一次运行的指标，运行结束时以 textfile 形式导出。
// 全部方法对 nil 接收者为 no-op。
//   - bcaugment_records_total{result}
//   - bcaugment_stage_duration_seconds{stage}
//   - bcaugment_generator_calls_total{result}
//   - bcaugment_noise_blocks_total{type,result}
type Metrics struct {
	reg     *prometheus.Registry
	records *prometheus.CounterVec
	stages  *prometheus.HistogramVec
	calls   *prometheus.CounterVec
	blocks  *prometheus.CounterVec
}

// NewMetrics 在独立 Registry 上注册全部指标。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bcaugment",
			Name:      "records_total",
			Help:      "Records processed, by result (ok|skipped|failed).",
		}, []string{"result"}),
		stages: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bcaugment",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bcaugment",
			Name:      "generator_calls_total",
			Help:      "Text generator calls, by result (ok|retry|error).",
		}, []string{"result"}),
		blocks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bcaugment",
			Name:      "noise_blocks_total",
			Help:      "Noise blocks, by type and result (ok|dropped).",
		}, []string{"type", "result"}),
	}
}

// Registry 暴露底层注册表（测试与导出使用）。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Record(result string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) GeneratorCall(result string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(result).Inc()
}

func (m *Metrics) NoiseBlock(typ, result string) {
	if m == nil {
		return
	}
	m.blocks.WithLabelValues(typ, result).Inc()
}

// WriteFile 以 Prometheus textfile 格式原子写出当前指标。
func (m *Metrics) WriteFile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
