// Package pipeline 是批量生成的驱动层：段落池 → 病例组合 → 表达编译 → 病历渲染 → 噪声注入 → 工件写出。
//   - 单点并发：仅此层管理并发（errgroup + SetLimit），各阶段组件均为同步实现；
//   - 可复现：每条病例的随机源由 (seed, 序号) 派生，与调度顺序无关；
//   - 首错取消：写出失败或 ctx 取消时整体停止；单条病例的组合失败只跳过该条。
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bcaugment/internal/combine"
	"bcaugment/internal/diag"
	"bcaugment/internal/express"
	"bcaugment/internal/noise"
	"bcaugment/internal/rate"
	"bcaugment/internal/render"
	"bcaugment/internal/sampler"
	"bcaugment/internal/schema"
	"bcaugment/pkg/contract"
)

// Components 聚合运行所需的协作方。
type Components struct {
	Schema    *schema.Schema
	Generator contract.TextGenerator
	Writer    contract.Writer
	Reader    contract.Reader
	// Catalog 为空时使用内置噪声目录。
	Catalog *noise.Catalog
}

// Settings 运行期配置。
type Settings struct {
	Count       int
	PoolSize    int
	Concurrency int
	Seed        uint64
	// OutputDir: 工件根目录；LoadPools 从 <OutputDir>/pools 读取。
	OutputDir string
	// SkipNoise: 仅生成干净病历（cases 子命令）。
	SkipNoise bool

	MaxTokens        int
	MaxTokensPerCall int
	BytesPerToken    int
	MaxRetries       int
	RetryBackoff     time.Duration
	Gate             rate.Gate
	GateKey          rate.Key

	Render render.Options
	Noise  noise.Options
}

// Summary: 一个阶段的计数。
type Summary struct {
	Total    int           `json:"total"`
	OK       int           `json:"ok"`
	Degraded int           `json:"degraded"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

type Pipeline struct {
	comp     Components
	set      Settings
	logger   zerolog.Logger
	metrics  *diag.Metrics
	term     *diag.Terminal
	sampler  *sampler.Sampler
	renderer *render.Renderer
	injector *noise.Injector
}

// New 校验组件并构造各阶段。metrics 与 term 可为 nil。
func New(comp Components, set Settings, logger zerolog.Logger, m *diag.Metrics, term *diag.Terminal) (*Pipeline, error) {
	if comp.Generator == nil || comp.Writer == nil {
		return nil, fmt.Errorf("pipeline: %w: missing components", contract.ErrInvalidInput)
	}
	if comp.Schema == nil {
		comp.Schema = schema.Empty()
	}
	if set.Concurrency < 1 {
		set.Concurrency = 1
	}
	gen := NewGuarded(comp.Generator, set, logger, m)
	rd, err := render.New(gen, &set.Render, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	inj, err := noise.New(gen, comp.Catalog, set.Noise, logger, m)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return &Pipeline{
		comp:     comp,
		set:      set,
		logger:   logger.With().Str("comp", "pipeline").Logger(),
		metrics:  m,
		term:     term,
		sampler:  sampler.New(comp.Schema),
		renderer: rd,
		injector: inj,
	}, nil
}

// Pools 为每个段落生成 PoolSize 条样本并写出 pools/<segment>_pool.json。
func (p *Pipeline) Pools(ctx context.Context) (map[string][]*contract.Record, error) {
	if p.set.PoolSize < 1 {
		return nil, fmt.Errorf("pipeline: %w: pool_size must be >= 1", contract.ErrInvalidInput)
	}
	t0 := time.Now()
	names := schema.SegmentNames()
	p.term.StageStart("pools", len(names))
	tm := diag.Start(p.logger, "pools", "sample", p.metrics)
	pools, err := p.sampler.Pools(ctx, p.set.PoolSize, p.set.Seed, p.set.Concurrency)
	if err != nil {
		tm.Fail("sample failed", err)
		p.term.StageFinish(false, 0, time.Since(t0))
		return nil, err
	}
	for i, name := range names {
		if err := p.writeJSON(ctx, poolID(name), pools[name]); err != nil {
			tm.Fail("persist failed", err)
			p.term.StageFinish(false, i, time.Since(t0))
			return nil, err
		}
		p.term.Progress(i+1, 0)
	}
	tm.Finish("sample", int64(len(names)))
	p.term.StageFinish(true, len(names), time.Since(t0))
	return pools, nil
}

// LoadPools 读取 <OutputDir>/pools 下的段落池文件。未知段落名被忽略。
func (p *Pipeline) LoadPools(ctx context.Context) (map[string][]*contract.Record, error) {
	if p.comp.Reader == nil {
		return nil, fmt.Errorf("pipeline: %w: missing reader", contract.ErrInvalidInput)
	}
	pools := map[string][]*contract.Record{}
	root := path.Join(p.set.OutputDir, poolDir)
	err := p.comp.Reader.Iterate(ctx, []string{root}, func(id contract.ArtifactID, rc io.ReadCloser) error {
		defer rc.Close()
		seg, ok := segmentOf(id)
		if !ok {
			return nil
		}
		if _, known := schema.SegmentByName(seg); !known {
			p.logger.Warn().Str("file", string(id)).Msg("pool_unknown_segment_ignored")
			return nil
		}
		var recs []*contract.Record
		if err := json.NewDecoder(rc).Decode(&recs); err != nil {
			return fmt.Errorf("decode %s: %w", id, err)
		}
		pools[seg] = recs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("pipeline: %w: no segment pools under %s", contract.ErrInvalidInput, root)
	}
	p.logger.Info().Int("segments", len(pools)).Msg("pools_loaded")
	return pools, nil
}

// Cases 生成 Count 条病例并写出 case_NNN.*，最后写出 all_cases.json。
func (p *Pipeline) Cases(ctx context.Context, pools map[string][]*contract.Record) (Summary, error) {
	t0 := time.Now()
	stage := "cases"
	p.term.StageStart(stage, p.set.Count)
	tm := diag.Start(p.logger, stage, "generate", p.metrics)

	comb := combine.New(pools)
	seq := NewSequence("case", 1)
	results := make([]*Case, p.set.Count)
	var done, skipped, degraded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.set.Concurrency)
	for i := 0; i < p.set.Count; i++ {
		name, _ := seq.Next()
		g.Go(func() error {
			c, err := p.buildCase(gctx, comb, name, i)
			switch {
			case errors.Is(err, contract.ErrEmptyRecord):
				skipped.Add(1)
				p.metrics.Record("skipped")
				p.logger.Warn().Str("case", name).Err(err).Msg("case_skipped")
			case err != nil:
				return err
			default:
				if err := p.writeCase(gctx, c); err != nil {
					return err
				}
				results[i] = c
				if c.Degraded {
					degraded.Add(1)
					p.metrics.Record("degraded")
				} else {
					p.metrics.Record("ok")
				}
			}
			p.term.Progress(int(done.Add(1)), int(skipped.Load()))
			return nil
		})
	}
	err := g.Wait()
	sum := Summary{
		Total:    p.set.Count,
		OK:       int(done.Load() - skipped.Load()),
		Degraded: int(degraded.Load()),
		Skipped:  int(skipped.Load()),
	}
	if err == nil {
		all := make([]*Case, 0, len(results))
		for _, c := range results {
			if c != nil {
				all = append(all, c)
			}
		}
		err = p.writeJSON(ctx, allCasesName, all)
	}
	sum.Duration = time.Since(t0)
	if err != nil {
		tm.Fail("generate failed", err)
		p.term.StageFinish(false, int(done.Load()), sum.Duration)
		return sum, err
	}
	tm.Finish("generate", int64(sum.OK))
	p.term.StageFinish(true, int(done.Load()), sum.Duration)
	return sum, nil
}

// buildCase 对单条病例顺序执行组合 → 编译 → 渲染 → 噪声注入。
func (p *Pipeline) buildCase(ctx context.Context, comb *combine.Combiner, name string, idx int) (*Case, error) {
	rng := CaseRNG(p.set.Seed, idx)
	res, err := comb.Combine(rng)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	compiled := express.Compile(res.Record, rng)
	id := noise.DeriveIdentity(res.Record, rng)
	note, err := p.renderer.Render(ctx, compiled, id)
	if err != nil {
		return nil, fmt.Errorf("%s: render: %w", name, err)
	}
	cj, err := json.Marshal(compiled)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	c := &Case{
		ID:         caseUUID(p.set.Seed, name),
		Name:       name,
		Mode:       res.Mode,
		Segments:   res.Segments,
		Identity:   id,
		Structured: res.Record,
		Compiled:   cj,
		Text:       note.Text,
		Degraded:   note.Degraded,
	}
	if p.set.SkipNoise {
		return c, nil
	}
	if err := p.addNoise(ctx, c, rng); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}

func (p *Pipeline) addNoise(ctx context.Context, c *Case, rng *rand.Rand) error {
	r, err := p.injector.Inject(ctx, c.Text, c.Identity, rng)
	if err != nil {
		return err
	}
	c.NoisyText = r.Text
	c.NoiseBlocks = c.NoiseBlocks[:0]
	for _, b := range r.Blocks {
		c.NoiseBlocks = append(c.NoiseBlocks, string(b.Type))
	}
	return nil
}

// Run 执行完整流程：段落池 → 病例（含噪声）。
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	pools, err := p.Pools(ctx)
	if err != nil {
		return Summary{}, err
	}
	return p.Cases(ctx, pools)
}
