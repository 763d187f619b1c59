package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bcaugment/internal/rate"
)

// UT-CFG-01: 无配置文件时使用默认值，且默认值可通过校验。
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	d := Defaults()
	assert.Equal(t, d.Count, cfg.Count)
	assert.Equal(t, d.PoolSize, cfg.PoolSize)
	assert.Equal(t, d.Seed, cfg.Seed)
	assert.Equal(t, "mock", cfg.LLM)
	assert.Equal(t, "mock", cfg.Provider["mock"].Client)
	assert.Equal(t, d.Noise.MaxFront, cfg.Noise.MaxFront)
	assert.InDelta(t, d.Noise.OCR.MergeProb, cfg.Noise.OCR.MergeProb, 1e-9)
	require.NoError(t, Validate(cfg))
}

// UT-CFG-02: 配置文件 < 环境变量 < 命令行。
func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bcaugment.yaml")
	doc := strings.Join([]string{
		"count: 3",
		"concurrency: 2",
		"seed: 5",
		"llm: remote",
		"provider:",
		"  remote:",
		"    client: openai",
		"    options:",
		"      api_key: k",
		"      model: m",
		"    limits:",
		"      rpm: 10",
		"      max_tokens_per_call: 2048",
		"noise:",
		"  max_back: 1",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	t.Setenv("BCAUG_CONCURRENCY", "7")
	t.Setenv("BCAUG_NOISE_MAX_FRONT", "0")

	cfg, err := Load(path, func(v *viper.Viper) error {
		v.Set("seed", 99)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Count, "来自文件")
	assert.Equal(t, 7, cfg.Concurrency, "环境变量覆盖文件")
	assert.EqualValues(t, 99, cfg.Seed, "命令行覆盖文件")
	assert.Equal(t, 0, cfg.Noise.MaxFront)
	assert.Equal(t, 1, cfg.Noise.MaxBack)
	assert.Equal(t, Defaults().PoolSize, cfg.PoolSize, "未设置的键保持默认")

	p := cfg.Provider["remote"]
	assert.Equal(t, "openai", p.Client)
	assert.Equal(t, "k", p.Options["api_key"])
	assert.Equal(t, rate.Limits{RPM: 10, MaxTokensPerCall: 2048}, p.Limits)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), nil)
	assert.Error(t, err)
}

// UT-CFG-03: 校验错误分支。
func TestValidateErrors(t *testing.T) {
	assert.Error(t, Validate(Config{}), "空配置应失败")

	cases := map[string]func(*Config){
		"count":        func(c *Config) { c.Count = 0 },
		"pool_size":    func(c *Config) { c.PoolSize = 0 },
		"concurrency":  func(c *Config) { c.Concurrency = 0 },
		"max_tokens":   func(c *Config) { c.MaxTokens = 0 },
		"max_retries":  func(c *Config) { c.MaxRetries = -1 },
		"output_dir":   func(c *Config) { c.OutputDir = " " },
		"llm":          func(c *Config) { c.LLM = "" },
		"provider":     func(c *Config) { c.LLM = "absent" },
		"client":       func(c *Config) { c.Provider["mock"] = Provider{} },
		"unregistered": func(c *Config) { c.Provider["mock"] = Provider{Client: "gemini"} },
		"per_call": func(c *Config) {
			c.Provider["mock"] = Provider{Client: "mock", Limits: rate.Limits{MaxTokensPerCall: 10}}
		},
		"writer":    func(c *Config) { c.Components.Writer = "s3" },
		"max_front": func(c *Config) { c.Noise.MaxFront = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultTemplateConfig()
			mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

// UT-CFG-04: 装配 mock provider 与文件系统读写组件。
func TestAssembleMock(t *testing.T) {
	cfg := Defaults()
	cfg.OutputDir = t.TempDir()
	cfg.RetryBackoffMS = 50
	comp, set, err := Assemble(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, comp.Generator)
	assert.NotNil(t, comp.Writer)
	assert.NotNil(t, comp.Reader)
	assert.NotNil(t, comp.Schema)
	assert.NotNil(t, comp.Catalog)
	assert.NotNil(t, set.Gate)
	assert.True(t, strings.HasPrefix(string(set.GateKey), "mock:"))
	assert.Equal(t, 4096, set.MaxTokensPerCall)
	assert.Equal(t, cfg.OutputDir, set.OutputDir)
	assert.EqualValues(t, 50_000_000, set.RetryBackoff)
}

func TestAssembleBadProviderOptions(t *testing.T) {
	cfg := Defaults()
	cfg.OutputDir = t.TempDir()
	cfg.Provider["mock"] = Provider{Client: "mock", Options: map[string]any{"unknown": 1}}
	_, _, err := Assemble(cfg, zerolog.Nop())
	assert.Error(t, err, "未知选项键应失败")
}

// UT-CFG-05: 模板可写出、可重新加载，且不覆盖已有文件。
func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bcaugment.json")
	require.NoError(t, WriteTemplate(path))
	assert.Error(t, WriteTemplate(path), "已存在时不覆盖")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.LLM)
	assert.Equal(t, "openai", cfg.Provider["openai"].Client)
	assert.Equal(t, "report", cfg.Provider["report"].Client)
	require.NoError(t, Validate(cfg))
}

func TestFlatten(t *testing.T) {
	m, err := flatten(Defaults())
	require.NoError(t, err)
	assert.Contains(t, m, "noise.ocr.merge_prob")
	assert.Contains(t, m, "provider.mock.client")
	assert.Contains(t, m, "logging.level")
}
