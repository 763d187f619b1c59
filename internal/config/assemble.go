package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bcaugment/internal/noise"
	"bcaugment/internal/pipeline"
	"bcaugment/internal/rate"
	"bcaugment/internal/schema"
	"bcaugment/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if cfg.Count < 1 {
		return errors.New("config: count must be >= 1")
	}
	if cfg.PoolSize < 1 {
		return errors.New("config: pool_size must be >= 1")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if cfg.MaxTokens <= 0 {
		return errors.New("config: max_tokens must be > 0")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return errors.New("config: output_dir empty")
	}
	if cfg.Noise.MaxFront < 0 || cfg.Noise.MaxBack < 0 {
		return errors.New("config: noise.max_front/max_back must be >= 0")
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if registry.Generator[prov.Client] == nil {
		return fmt.Errorf("config: llm client %q not registered", prov.Client)
	}
	if l := prov.Limits; l.RPM < 0 || l.TPM < 0 || l.MaxTokensPerCall < 0 {
		return fmt.Errorf("config: provider %q limits must be >= 0", cfg.LLM)
	}
	if lim := prov.Limits.MaxTokensPerCall; lim > 0 && cfg.MaxTokens > lim {
		return fmt.Errorf("config: max_tokens(%d) exceeds provider.max_tokens_per_call(%d)", cfg.MaxTokens, lim)
	}
	if name := effName(cfg.Components.Reader, "fs"); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, "fs"); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 构造 pipeline 的 Components 与 Settings（含限流 Gate+Key）。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 JSON。
// 规则文件与噪声目录加载失败时降级并告警，不返回错误。
func Assemble(cfg Config, logger zerolog.Logger) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	readerRaw, err := json.Marshal(cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: reader options: %w", err)
	}
	r, err := registry.Reader[effName(cfg.Components.Reader, "fs")](readerRaw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: reader: %w", err)
	}

	wopts := make(map[string]any, len(cfg.Options.Writer)+1)
	for k, v := range cfg.Options.Writer {
		wopts[k] = v
	}
	wopts["output_dir"] = cfg.OutputDir
	writerRaw, err := json.Marshal(wopts)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: writer options: %w", err)
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, "fs")](writerRaw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: writer: %w", err)
	}

	// 文本生成协作方
	prov := cfg.Provider[cfg.LLM]
	provRaw, err := json.Marshal(prov.Options)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: provider options: %w", err)
	}
	if prov.Options == nil {
		provRaw = nil
	}
	gen, err := registry.Generator[prov.Client](provRaw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: provider %q: %w", cfg.LLM, err)
	}

	// 限流 Gate：默认以 API Key 派生分组键；无法派生时退化为 provider 名称。
	key, derr := rate.DeriveKey(prov.Client, prov.Options)
	if derr != nil {
		key = rate.Key(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.Key]rate.Limits{key: prov.Limits}, nil)

	comp := pipeline.Components{
		Schema:    schema.Load(cfg.SchemaPath, logger),
		Generator: gen,
		Writer:    w,
		Reader:    r,
		Catalog:   noise.LoadCatalog(cfg.Noise.CatalogPath, logger),
	}
	set := pipeline.Settings{
		Count:            cfg.Count,
		PoolSize:         cfg.PoolSize,
		Concurrency:      cfg.Concurrency,
		Seed:             cfg.Seed,
		OutputDir:        cfg.OutputDir,
		MaxTokens:        cfg.MaxTokens,
		MaxTokensPerCall: prov.Limits.MaxTokensPerCall,
		MaxRetries:       cfg.MaxRetries,
		RetryBackoff:     time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		Gate:             gate,
		GateKey:          key,
		Render:           cfg.Render,
		Noise:            cfg.Noise,
	}
	return comp, set, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
