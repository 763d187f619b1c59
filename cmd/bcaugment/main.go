package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfgpkg "bcaugment/internal/config"
	"bcaugment/internal/diag"
	"bcaugment/internal/pipeline"
)

// 退出码：0 成功；1 运行期错误；3 配置/装配错误。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

// configError 标记配置阶段的失败，映射到退出码 3。
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func main() {
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, new(configError)):
		fmt.Fprintf(stderr, "配置错误: %v\n", err)
		return exitConfig
	case errors.Is(err, context.Canceled):
		return exitRuntime
	default:
		fmt.Fprintf(stderr, "运行失败: %v\n", err)
		return exitRuntime
	}
}

// flags: 全局旗标；仅在用户显式设置时覆盖配置。
type flags struct {
	config      string
	logLevel    string
	seed        uint64
	concurrency int
	llm         string
	out         string
	status      bool
	count       int
	poolSize    int
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "bcaugment",
		Short:         "乳腺癌病历合成与噪声增强",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "配置文件路径（JSON/YAML）；缺省读取 ./bcaugment.json（若存在）")
	pf.StringVar(&f.logLevel, "log-level", "", "日志等级 debug|info|warn|error")
	pf.Uint64Var(&f.seed, "seed", 0, "随机种子")
	pf.IntVar(&f.concurrency, "concurrency", 0, "并发度")
	pf.StringVar(&f.llm, "llm", "", "provider 名称")
	pf.StringVarP(&f.out, "out", "o", "", "输出目录")
	pf.BoolVar(&f.status, "status", true, "终端状态提示（stderr）")

	gen := func(use, short string, action func(context.Context, *app, []string) error) *cobra.Command {
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := setup(cmd, f, stderr)
				if err != nil {
					return err
				}
				defer a.close()
				return a.finish(action(cmd.Context(), a, args))
			},
		}
		cmd.Flags().IntVar(&f.count, "count", 0, "生成的病例条数")
		cmd.Flags().IntVar(&f.poolSize, "pool-size", 0, "每个段落池的样本数")
		return cmd
	}

	root.AddCommand(
		initConfigCmd(stdout),
		gen("pools", "只生成段落池 pools/<segment>_pool.json", func(ctx context.Context, a *app, _ []string) error {
			_, err := a.p.Pools(ctx)
			return err
		}),
		gen("cases", "从已有段落池生成干净病历（不加噪）", func(ctx context.Context, a *app, _ []string) error {
			pools, err := a.p.LoadPools(ctx)
			if err != nil {
				return err
			}
			sum, err := a.p.Cases(ctx, pools)
			a.summary(sum)
			return err
		}),
		gen("run", "完整流程：段落池 → 病例 → 噪声", func(ctx context.Context, a *app, _ []string) error {
			sum, err := a.p.Run(ctx)
			a.summary(sum)
			return err
		}),
		withArgs(gen("noise <files...>", "对已有病例或病历文本单独加噪", func(ctx context.Context, a *app, args []string) error {
			sum, err := a.p.NoiseFiles(ctx, args)
			a.summary(sum)
			return err
		})),
		withArgs(gen("validate <files...>", "校验已生成病例并统计字段覆盖率", func(ctx context.Context, a *app, args []string) error {
			rep, err := a.p.Validate(ctx, args)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(stdout)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if rep.Failed > 0 {
				return fmt.Errorf("validate: %d/%d cases failed", rep.Failed, rep.Cases)
			}
			return nil
		})),
	)
	return root
}

func withArgs(cmd *cobra.Command) *cobra.Command {
	cmd.Args = cobra.MinimumNArgs(1)
	return cmd
}

// app: 单次命令的运行上下文。
type app struct {
	start   time.Time
	cfg     cfgpkg.Config
	logger  zerolog.Logger
	closer  io.Closer
	metrics *diag.Metrics
	term    *diag.Terminal
	p       *pipeline.Pipeline
	mode    string
	sum     *pipeline.Summary
}

func setup(cmd *cobra.Command, f *flags, stderr io.Writer) (*app, error) {
	start := time.Now()
	path := f.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "_CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("bcaugment.json"); err == nil {
			path = "bcaugment.json"
		}
	}
	cfg, err := cfgpkg.Load(path, bindFlags(cmd))
	if err != nil {
		return nil, configError{err}
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		_ = dumpConfig(stderr, cfg)
		return nil, configError{err}
	}

	logger, closer := diag.NewLogger(uuid.NewString(), cfg.Logging.Level, cfg.Logging.Dir)
	if err := preflightCheckOutputDir(cfg.OutputDir); err != nil {
		_ = closer.Close()
		return nil, configError{fmt.Errorf("输出目录不可写或无法创建: %w", err)}
	}
	comp, set, err := cfgpkg.Assemble(cfg, logger)
	if err != nil {
		logger.Error().Str("code", string(diag.Classify(err))).Err(err).Msg("assemble_failed")
		_ = closer.Close()
		return nil, configError{err}
	}
	if cmd.Name() == "cases" {
		set.SkipNoise = true
	}
	a := &app{
		start:   start,
		cfg:     cfg,
		logger:  logger,
		closer:  closer,
		metrics: diag.NewMetrics(),
		term:    diag.NewTerminal(stderr, f.status),
		mode:    cmd.Name(),
	}
	a.p, err = pipeline.New(comp, set, logger, a.metrics, a.term)
	if err != nil {
		_ = closer.Close()
		return nil, configError{err}
	}
	logEffective(logger, cfg, cmd.Name())
	a.term.RunStart(cfg.Concurrency, cfg.LLM)
	return a, nil
}

// bindFlags 只绑定用户显式设置过的旗标，未设置的旗标不参与合并。
func bindFlags(cmd *cobra.Command) cfgpkg.Binder {
	keys := map[string]string{
		"log-level":   "logging.level",
		"seed":        "seed",
		"concurrency": "concurrency",
		"llm":         "llm",
		"out":         "output_dir",
		"count":       "count",
		"pool-size":   "pool_size",
	}
	return func(v *viper.Viper) error {
		for name, key := range keys {
			fl := cmd.Flags().Lookup(name)
			if fl == nil || !fl.Changed {
				continue
			}
			if err := v.BindPFlag(key, fl); err != nil {
				return err
			}
		}
		return nil
	}
}

func (a *app) summary(s pipeline.Summary) { a.sum = &s }

// finish 记录结果、写出指标并映射错误。
func (a *app) finish(err error) error {
	dur := time.Since(a.start)
	ev := a.logger.Info()
	if err != nil {
		ev = a.logger.Error().Str("code", string(diag.Classify(err))).Err(err)
	}
	if a.sum != nil {
		ev = ev.Int("total", a.sum.Total).Int("ok", a.sum.OK).
			Int("degraded", a.sum.Degraded).Int("skipped", a.sum.Skipped)
	}
	ev.Str("cmd", a.mode).Int64("dur_ms", dur.Milliseconds()).Msg("run_finish")
	a.term.RunFinish(err == nil, dur)

	if a.mode != "validate" {
		if merr := a.writeMetrics(); merr != nil {
			a.logger.Warn().Err(merr).Msg("metrics_write_failed")
		}
	}
	return err
}

// writeMetrics 写出 textfile；metrics_path 为空时写到输出目录。
func (a *app) writeMetrics() error {
	path := a.cfg.MetricsPath
	if path == "" {
		path = filepath.Join(a.cfg.OutputDir, "metrics.prom")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return a.metrics.WriteFile(path)
}

func (a *app) close() {
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

// logEffective 以 debug 级别输出生效配置（不含密钥）。
func logEffective(l zerolog.Logger, cfg cfgpkg.Config, cmd string) {
	ev := l.Debug().Str("cmd", cmd).Int("count", cfg.Count).Int("pool_size", cfg.PoolSize).
		Int("concurrency", cfg.Concurrency).Uint64("seed", cfg.Seed).Str("llm", cfg.LLM).
		Str("output_dir", cfg.OutputDir)
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		ev = ev.Str("provider_client", p.Client)
		for _, k := range []string{"base_url", "model", "endpoint_path", "url"} {
			if s, ok := p.Options[k].(string); ok && s != "" {
				ev = ev.Str(k, s)
			}
		}
	}
	ev.Msg("config_effective")
}

func initConfigCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在目录下生成默认配置 bcaugment.json 与 .env 模板（已存在则不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return configError{err}
			}
			path := filepath.Join(dir, "bcaugment.json")
			if err := cfgpkg.WriteTemplate(path); err != nil {
				return configError{err}
			}
			if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
				fmt.Fprintf(stdout, "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			fmt.Fprintln(stdout, path)
			return nil
		},
	}
}

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(redact(c), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "有效配置:\n%s\n", b)
	return err
}

// redact 去掉 provider options 中的明文密钥。
func redact(c cfgpkg.Config) cfgpkg.Config {
	prov := make(map[string]cfgpkg.Provider, len(c.Provider))
	for name, p := range c.Provider {
		opts := make(map[string]any, len(p.Options))
		for k, v := range p.Options {
			if k == "api_key" {
				if s, _ := v.(string); s != "" {
					v = "***"
				}
			}
			opts[k] = v
		}
		p.Options = opts
		prov[name] = p
	}
	c.Provider = prov
	return c
}
