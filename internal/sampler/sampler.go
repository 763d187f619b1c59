// Package sampler 按段落生成受约束的随机字段取值。
// 每个段落对应一个 Policy；随机源由调用方注入，便于以种子复现。
package sampler

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"bcaugment/internal/schema"
	"bcaugment/pkg/contract"
)

// Sampler: 段落采样入口。构造后只读，可并发使用（每个调用方持有自己的 rng）。
type Sampler struct {
	schema   *schema.Schema
	now      func() time.Time
	policies map[string]Policy
}

// Option 调整 Sampler 构造参数。
type Option func(*Sampler)

// WithClock 注入时钟（影响根治手术时间的回溯基准）。
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// WithPolicy 覆盖或新增段落策略。
func WithPolicy(segment string, p Policy) Option {
	return func(s *Sampler) { s.policies[segment] = p }
}

func New(sc *schema.Schema, opts ...Option) *Sampler {
	if sc == nil {
		sc = schema.Empty()
	}
	s := &Sampler{schema: sc, now: time.Now, policies: map[string]Policy{}}
	for _, o := range opts {
		o(s)
	}
	builtin := map[string]Policy{
		schema.SegBasicInfo:          BasicInfo{},
		schema.SegStageAndMetastasis: StageMetastasis{},
		schema.SegSurgery:            Surgery{Now: s.now},
		schema.SegPathology:          Pathology{},
		schema.SegTumorSize:          TumorSize{},
		schema.SegTreatment:          Treatment{},
		schema.SegPrognosis:          Prognosis{},
		schema.SegResponse:           Response{},
		schema.SegRisk:               Risk{},
		schema.SegStaging:            Staging{},
	}
	for name, p := range builtin {
		if _, ok := s.policies[name]; !ok {
			s.policies[name] = p
		}
	}
	return s
}

// PolicyFor 返回段落策略；未登记段落按规则目录对给定字段做默认采样。
func (s *Sampler) PolicyFor(segment string, fields []contract.FieldID) Policy {
	if p, ok := s.policies[segment]; ok {
		return p
	}
	return Default{Schema: s.schema, Fields: fields}
}

// SampleSegment 生成 n 条记录；每条恰好包含 fields 中的全部字段（策略未产出的字段置空）。
func (s *Sampler) SampleSegment(fields []contract.FieldID, n int, segment string, rng *rand.Rand) []*contract.Record {
	return SampleWith(s.PolicyFor(segment, fields), fields, n, rng)
}

// SampleWith 以指定策略采样并投影到 fields。
func SampleWith(p Policy, fields []contract.FieldID, n int, rng *rand.Rand) []*contract.Record {
	out := make([]*contract.Record, 0, max(n, 0))
	for i := 0; i < n; i++ {
		out = append(out, project(p.Sample(rng), fields))
	}
	return out
}

func project(full *contract.Record, fields []contract.FieldID) *contract.Record {
	r := &contract.Record{}
	for _, f := range fields {
		if v, ok := full.Get(f); ok {
			r.Set(f, v)
			continue
		}
		r.Set(f, contract.Text(""))
	}
	return r
}

// SegmentRNG 由种子与段落序号派生独立随机源。
func SegmentRNG(seed uint64, index int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(index)+1))
}

// Pools 为全部段落各生成 n 条样本。段落间并行（上限 concurrency），
// 每个段落使用由种子派生的独立随机源，结果与调度顺序无关。
func (s *Sampler) Pools(ctx context.Context, n int, seed uint64, concurrency int) (map[string][]*contract.Record, error) {
	segs := schema.Segments()
	results := make([][]*contract.Record, len(segs))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, seg := range segs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.SampleSegment(seg.Fields, n, seg.Name, SegmentRNG(seed, i))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	pools := make(map[string][]*contract.Record, len(segs))
	for i, seg := range segs {
		pools[seg.Name] = results[i]
	}
	return pools, nil
}
