package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"bcaugment/internal/noise"
	"bcaugment/internal/rate"
)

// EnvPrefix: 环境变量前缀，例如 BCAUG_CONCURRENCY、BCAUG_NOISE_MAX_FRONT。
const EnvPrefix = "BCAUG"

// Defaults 返回带有安全默认值的 Config 雏形（mock provider，可离线运行）。
func Defaults() Config {
	return Config{
		Count:          10,
		PoolSize:       50,
		Concurrency:    4,
		Seed:           1,
		MaxTokens:      1024,
		MaxRetries:     2,
		RetryBackoffMS: 200,
		OutputDir:      "out",
		Logging:        Logging{Level: "info", Dir: "logs"},
		Components:     Components{Reader: "fs", Writer: "fs"},
		Options: Options{
			Reader: map[string]any{"buf_size": 65536, "exclude_dir_names": []string{"logs"}},
			Writer: map[string]any{"atomic": true, "buf_size": 65536},
		},
		LLM: "mock",
		Provider: map[string]Provider{
			"mock": {Client: "mock", Limits: rate.Limits{RPM: 60, TPM: 100000, MaxTokensPerCall: 4096}},
		},
		Noise: noise.DefaultOptions(),
	}
}

// Binder 在读取完其它来源后绑定命令行参数（通常为 viper.BindPFlag）。
type Binder func(v *viper.Viper) error

// Load 按 默认值 → 配置文件（path 非空时，格式按扩展名） → 环境变量 → 命令行 合并并解析。
// 未知键在配置文件中被忽略；类型错误返回错误。
func Load(path string, bind Binder) (Config, error) {
	v, err := newViper(path, bind)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Logging.Level = strings.TrimSpace(cfg.Logging.Level)
	cfg.LLM = strings.TrimSpace(cfg.LLM)
	return cfg, nil
}

func newViper(path string, bind Binder) (*viper.Viper, error) {
	v := viper.New()
	d, err := flatten(Defaults())
	if err != nil {
		return nil, err
	}
	for _, k := range sortedKeys(d) {
		v.SetDefault(k, d[k])
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if bind != nil {
		if err := bind(v); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}
	return v, nil
}

// flatten 将 Config 展开为 "a.b.c" → 叶子值，供 SetDefault 使用，
// 使每个叶子键都能被环境变量单独覆盖。
func flatten(cfg Config) (map[string]any, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	out := map[string]any{}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok && len(sub) > 0 {
				walk(key, sub)
				continue
			}
			out[key] = val
		}
	}
	walk("", tree)
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
