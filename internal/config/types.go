package config

import (
	"bcaugment/internal/noise"
	"bcaugment/internal/rate"
	"bcaugment/internal/render"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键使用 snake_case；来源优先级：默认值 < 配置文件 < 环境变量（BCAUG_ 前缀） < 命令行。
type Config struct {
	// Count: 生成的病例条数。
	Count int `json:"count" mapstructure:"count"`
	// PoolSize: 每个段落池的样本数。
	PoolSize    int    `json:"pool_size" mapstructure:"pool_size"`
	Concurrency int    `json:"concurrency" mapstructure:"concurrency"`
	Seed        uint64 `json:"seed" mapstructure:"seed"`
	// MaxTokens: 单次生成调用的预期输出 token 数（用于限流额度估算）。
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`
	// MaxRetries: 生成调用的最大重试次数（>=0）。0 表示不重试。
	MaxRetries     int `json:"max_retries" mapstructure:"max_retries"`
	RetryBackoffMS int `json:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`

	OutputDir  string `json:"output_dir" mapstructure:"output_dir"`
	SchemaPath string `json:"schema_path" mapstructure:"schema_path"`
	// MetricsPath: 指标 textfile 路径；为空时写到 <output_dir>/metrics.prom。
	MetricsPath string `json:"metrics_path" mapstructure:"metrics_path"`

	Logging Logging `json:"logging" mapstructure:"logging"`

	// 组件名选择（注册表中的实现名）与其 Options 子树。
	Components Components `json:"components" mapstructure:"components"`
	Options    Options    `json:"options" mapstructure:"options"`

	// LLM: 选用的 provider 名。
	LLM      string              `json:"llm" mapstructure:"llm"`
	Provider map[string]Provider `json:"provider" mapstructure:"provider"`

	Render render.Options `json:"render" mapstructure:"render"`
	Noise  noise.Options  `json:"noise" mapstructure:"noise"`
}

// Logging: 日志等级与目录；轮转策略为固定默认。
type Logging struct {
	Level string `json:"level" mapstructure:"level"`
	Dir   string `json:"dir" mapstructure:"dir"`
}

// Components: 读写组件的注册名。
type Components struct {
	Reader string `json:"reader" mapstructure:"reader"`
	Writer string `json:"writer" mapstructure:"writer"`
}

// Options: 读写组件的 Options，序列化为 JSON 后交给注册表工厂严格解码。
// writer 的 output_dir 总是由顶层 output_dir 决定。
type Options struct {
	Reader map[string]any `json:"reader" mapstructure:"reader"`
	Writer map[string]any `json:"writer" mapstructure:"writer"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
// 注意：经由配置文件加载时 options 的键被统一为小写。
type Provider struct {
	Client  string         `json:"client" mapstructure:"client"`
	Options map[string]any `json:"options" mapstructure:"options"`
	Limits  rate.Limits    `json:"limits" mapstructure:"limits"`
}
