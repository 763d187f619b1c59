package config

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/viper"

	"bcaugment/internal/rate"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// 选用 mock provider；同时列出 openai 与 report 的全部选项键，便于切换。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.SchemaPath = ""
	cfg.Provider = map[string]Provider{
		"mock": {
			Client:  "mock",
			Options: map[string]any{"prefix": "", "reply": "", "api_key": ""},
			Limits:  rate.Limits{RPM: 600, TPM: 1000000, MaxTokensPerCall: 4096},
		},
		"openai": {
			Client: "openai",
			Options: map[string]any{
				"base_url":             "https://api.openai.com/v1",
				"model":                "gpt-4.1-mini",
				"api_key_env":          "OPENAI_API_KEY",
				"timeout_seconds":      60,
				"temperature":          0.7,
				"system":               "",
				"endpoint_path":        "/chat/completions",
				"disable_default_auth": false,
			},
			Limits: rate.Limits{RPM: 60, TPM: 100000, MaxTokensPerCall: 8192},
		},
		"report": {
			Client: "report",
			Options: map[string]any{
				"url":             "http://127.0.0.1:8080/report",
				"timeout_seconds": 10,
				"api_key_env":     "",
			},
			Limits: rate.Limits{RPM: 120},
		},
	}
	cfg.Render.TemplatePath = ""
	return cfg
}

// WriteTemplate 将模板写到 path（格式按扩展名：.json/.yaml/.toml）。文件已存在时返回错误，不覆盖。
func WriteTemplate(path string) error {
	b, err := json.Marshal(DefaultTemplateConfig())
	if err != nil {
		return fmt.Errorf("config: template: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(b, &tree); err != nil {
		return fmt.Errorf("config: template: %w", err)
	}
	v := viper.New()
	if err := v.MergeConfigMap(tree); err != nil {
		return fmt.Errorf("config: template: %w", err)
	}
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write template %s: %w", path, err)
	}
	return nil
}
