// Package combine 从段落池拼装单条病例，并做影像学去重与锚点一致性修正。
package combine

import (
	"fmt"
	"math/rand/v2"

	"bcaugment/internal/schema"
	"bcaugment/pkg/contract"
)

// Mode: 组合模式。
type Mode string

const (
	// ModeStandard: 全部必选段 + 随机 1..|可选段| 个可选段。
	ModeStandard Mode = "standard"
	// ModeRandomGroups: 不区分必选，随机 1–4 个段。
	ModeRandomGroups Mode = "random_groups"
)

const maxRandomGroups = 4

// Combiner: 基于只读段落池的病例拼装器。可并发使用（每个调用方持有自己的 rng）。
type Combiner struct {
	pools    map[string][]*contract.Record
	required []string
	optional []string
	all      []string
}

func New(pools map[string][]*contract.Record) *Combiner {
	return &Combiner{
		pools:    pools,
		required: schema.RequiredSegments(),
		optional: schema.OptionalSegments(),
		all:      schema.SegmentNames(),
	}
}

// Result: 单次组合的产物与所选段落（用于诊断）。
type Result struct {
	Record   *contract.Record
	Mode     Mode
	Segments []string
}

// Combine 拼装一条病例。后合并的段覆盖先合并的同名字段；缺失或为空的段落池被跳过。
// 没有任何字段被合并时返回 ErrEmptyRecord。
func (c *Combiner) Combine(rng *rand.Rand) (Result, error) {
	mode := ModeStandard
	if rng.IntN(2) == 1 {
		mode = ModeRandomGroups
	}
	var segs []string
	switch mode {
	case ModeStandard:
		segs = append(segs, c.required...)
		if len(c.optional) > 0 {
			segs = append(segs, pick(rng, c.optional, 1+rng.IntN(len(c.optional)))...)
		}
	default:
		segs = pick(rng, c.all, 1+rng.IntN(min(maxRandomGroups, len(c.all))))
	}

	rec := &contract.Record{}
	var used []string
	for _, name := range segs {
		pool := c.pools[name]
		if len(pool) == 0 {
			continue
		}
		rec.Merge(pool[rng.IntN(len(pool))])
		used = append(used, name)
	}
	if rec.Len() == 0 {
		return Result{Mode: mode}, fmt.Errorf("%w: mode=%s segments=%v", contract.ErrEmptyRecord, mode, segs)
	}
	DedupeTumorSize(rec, rng)
	Repair(rec)
	return Result{Record: rec, Mode: mode, Segments: used}, nil
}

func pick(rng *rand.Rand, pool []string, k int) []string {
	idx := rng.Perm(len(pool))[:k]
	out := make([]string, 0, k)
	for _, i := range idx {
		out = append(out, pool[i])
	}
	return out
}

// DedupeTumorSize 术前、术后两类影像学肿块大小字段各至多保留一个。
// 多个并存时在非空项中均匀选一（全部为空时在全部并存项中选一），其余删除。
func DedupeTumorSize(rec *contract.Record, rng *rand.Rand) {
	for _, group := range [][]contract.FieldID{contract.TumorPreModalities, contract.TumorPostModalities} {
		var present, filled []contract.FieldID
		for _, f := range group {
			if !rec.Has(f) {
				continue
			}
			present = append(present, f)
			if rec.NonEmpty(f) {
				filled = append(filled, f)
			}
		}
		if len(present) <= 1 {
			continue
		}
		cands := present
		if len(filled) > 0 {
			cands = filled
		}
		keep := cands[rng.IntN(len(cands))]
		for _, f := range present {
			if f != keep {
				rec.Delete(f)
			}
		}
	}
}

// Repair 单轮锚点修正：顶层锚点字段非空时，写入任何声明了同名字段的直接子记录。
// 只处理一层嵌套，不递归。
func Repair(rec *contract.Record) {
	for _, anchor := range contract.AnchorFields {
		v, ok := rec.Get(anchor)
		if !ok || v.IsEmpty() {
			continue
		}
		for _, f := range rec.Fields() {
			if f == anchor {
				continue
			}
			child, _ := rec.Get(f)
			sub, ok := child.Nested()
			if !ok || !sub.Has(anchor) {
				continue
			}
			sub.Set(anchor, v.Clone())
		}
	}
}
