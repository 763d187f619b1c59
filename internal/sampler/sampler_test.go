package sampler

import (
	"context"
	"math/rand/v2"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bcaugment/internal/schema"
	"bcaugment/pkg/contract"
)

func newRNG(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, 7)) }

func mustSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Default()
	require.NoError(t, err)
	return s
}

// UT-SMP-01: 全部段落的每条样本都包含全部请求字段。
func TestFieldCoverage(t *testing.T) {
	s := New(mustSchema(t))
	rng := newRNG(1)
	for _, seg := range schema.Segments() {
		recs := s.SampleSegment(seg.Fields, 50, seg.Name, rng)
		require.Len(t, recs, 50)
		for _, r := range recs {
			assert.Equal(t, seg.Fields, r.Fields(), "段落 %s 字段缺失或多余", seg.Name)
		}
	}
}

// UT-SMP-02: 请求集合之外的字段被裁剪，缺失字段补空。
func TestProjection(t *testing.T) {
	s := New(mustSchema(t))
	fields := []contract.FieldID{contract.FieldAge, contract.FieldGrade}
	recs := s.SampleSegment(fields, 3, schema.SegBasicInfo, newRNG(2))
	for _, r := range recs {
		assert.Equal(t, fields, r.Fields())
		v, ok := r.Get(contract.FieldGrade)
		require.True(t, ok)
		assert.True(t, v.IsEmpty())
		assert.False(t, r.Has(contract.FieldPS))
	}
}

// UT-SMP-03: IV期⇒M1分期⇒远处转移 蕴含链。
func TestStageImplication(t *testing.T) {
	rng := newRNG(3)
	for i := 0; i < 500; i++ {
		r := StageMetastasis{}.Sample(rng)
		if r.TextOf(contract.FieldStageIV) == yes {
			assert.Equal(t, yes, r.TextOf(contract.FieldM1))
		}
		if r.TextOf(contract.FieldM1) == yes {
			assert.Equal(t, yes, r.TextOf(contract.FieldDistantMetastasis))
			assert.NotEmpty(t, r.TextOf(contract.FieldMetastasisSite))
		}
		if r.TextOf(contract.FieldRecurrence) == yes || r.TextOf(contract.FieldMetastasisSite) != "" {
			assert.Equal(t, yes, r.TextOf(contract.FieldMetastasisOrRecurrence))
		}
	}
}

// 场景：固定 IV期=是 时 M1分期 与 远处转移 必为“是”。
func TestForcedStageIV(t *testing.T) {
	seg, _ := schema.SegmentByName(schema.SegStageAndMetastasis)
	s := New(mustSchema(t), WithPolicy(schema.SegStageAndMetastasis, StageMetastasis{StageIV: yes}))
	for _, r := range s.SampleSegment(seg.Fields, 100, seg.Name, newRNG(4)) {
		assert.Equal(t, yes, r.TextOf(contract.FieldStageIV))
		assert.Equal(t, yes, r.TextOf(contract.FieldM1))
		assert.Equal(t, yes, r.TextOf(contract.FieldDistantMetastasis))
	}
}

func TestBasicInfoMenopause(t *testing.T) {
	rng := newRNG(5)
	for i := 0; i < 500; i++ {
		r := BasicInfo{}.Sample(rng)
		age, err := strconv.Atoi(r.TextOf(contract.FieldAge))
		require.NoError(t, err)
		require.GreaterOrEqual(t, age, 18)
		require.LessOrEqual(t, age, 90)
		m := r.TextOf(contract.FieldMenopause)
		switch {
		case age < 45:
			assert.Equal(t, no, m)
		case age > 60:
			assert.Contains(t, []string{yes, ""}, m)
		default:
			assert.Contains(t, []string{yes, no}, m)
		}
	}
}

// UT-SMP-04: 保乳与根治互斥，阳性个数依赖对应标志，手术时间在 5 年回溯窗口内。
func TestSurgeryRules(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	p := Surgery{Now: func() time.Time { return now }}
	rng := newRNG(6)
	for i := 0; i < 500; i++ {
		r := p.Sample(rng)
		if r.TextOf(contract.FieldBreastConserving) == yes {
			assert.NotEqual(t, yes, r.TextOf(contract.FieldRadicalSurgery))
		}
		if r.TextOf(contract.FieldNodePositive) != yes {
			assert.Empty(t, r.TextOf(contract.FieldNodeCountPreop))
		}
		if r.TextOf(contract.FieldAxillaryDissection) != yes {
			assert.Empty(t, r.TextOf(contract.FieldNodeCountPostop))
		}
		date := r.TextOf(contract.FieldRadicalSurgeryDate)
		if r.TextOf(contract.FieldRadicalSurgery) != yes {
			assert.Empty(t, date)
			continue
		}
		d, err := time.Parse(schema.DateLayout, date)
		require.NoError(t, err)
		assert.False(t, d.After(now))
		assert.False(t, d.Before(now.AddDate(0, 0, -5*365)))
	}
}

// UT-SMP-05: 术后肿块大小严格小于术前，且每侧至少一个影像学子测量。
func TestTumorSizePostBelowPre(t *testing.T) {
	rng := newRNG(7)
	parse := func(r *contract.Record, f contract.FieldID) float64 {
		v, err := strconv.ParseFloat(r.TextOf(f), 64)
		require.NoError(t, err, "字段 %s", f)
		return v
	}
	for i := 0; i < 2000; i++ {
		r := TumorSize{}.Sample(rng)
		pre := parse(r, contract.FieldTumorSizePre)
		post := parse(r, contract.FieldTumorSizePost)
		assert.Less(t, post, pre)
		assert.GreaterOrEqual(t, post, 0.5)
		assert.LessOrEqual(t, pre, 13.0)

		minPre := 100.0
		for _, f := range contract.TumorPreModalities {
			if r.Has(f) {
				minPre = min(minPre, parse(r, f))
			}
		}
		for _, f := range contract.TumorPostModalities {
			if r.Has(f) {
				assert.Less(t, parse(r, f), minPre)
			}
		}
	}
}

func TestTumorSizeCanonicalPriority(t *testing.T) {
	rng := newRNG(8)
	for i := 0; i < 200; i++ {
		r := TumorSize{}.Sample(rng)
		for _, f := range contract.TumorPreModalities {
			if r.Has(f) {
				assert.Equal(t, r.TextOf(f), r.TextOf(contract.FieldTumorSizePre))
				break
			}
		}
	}
}

func TestTreatmentShapes(t *testing.T) {
	rng := newRNG(9)
	var schemes, drugs int
	for i := 0; i < 400; i++ {
		r := Treatment{}.Sample(rng)
		v, ok := r.Get(contract.FieldDrugs)
		require.True(t, ok)
		switch v.Kind() {
		case contract.KindSchemes:
			schemes++
			assert.True(t, len(v.Schemes()) >= 1 && len(v.Schemes()) <= 2)
			for _, s := range v.Schemes() {
				assert.Contains(t, s, "方案")
			}
		case contract.KindDrugs:
			drugs++
			for _, d := range v.Drugs() {
				assert.NotEmpty(t, d.Category)
			}
		default:
			t.Fatalf("药品信息 形态异常: %v", v.Kind())
		}
		if r.TextOf(contract.FieldNeoadjuvant) != yes {
			assert.Empty(t, r.TextOf(contract.FieldNeoadjuvantImmune))
			assert.Empty(t, r.TextOf(contract.FieldNeoadjuvantDualTarget))
		}
	}
	assert.Positive(t, schemes)
	assert.Positive(t, drugs)
}

// UT-SMP-06: 复发提示、日期上限回退与 DFS 月差。
func TestPrognosis(t *testing.T) {
	rng := newRNG(10)
	for i := 0; i < 500; i++ {
		r := Prognosis{Recurrence: yes}.Sample(rng)
		base, err := time.Parse(schema.DateLayout, r.TextOf(contract.FieldRadicalSurgeryDate))
		require.NoError(t, err)
		at, err := time.Parse(schema.DateLayout, r.TextOf(contract.FieldRecurrenceDate))
		require.NoError(t, err)
		assert.LessOrEqual(t, at.Year(), prognosisMaxYear)
		assert.True(t, at.After(base))
		want := (at.Year()-base.Year())*12 + int(at.Month()) - int(base.Month())
		assert.Equal(t, strconv.Itoa(want), r.TextOf(contract.FieldDFS))
	}
	r := Prognosis{Recurrence: no}.Sample(rng)
	assert.Empty(t, r.TextOf(contract.FieldRecurrenceDate))
	assert.Empty(t, r.TextOf(contract.FieldDFS))
}

func TestResponse(t *testing.T) {
	rng := newRNG(11)
	for i := 0; i < 300; i++ {
		r := Response{}.Sample(rng)
		if r.TextOf(contract.FieldPCR) == yes {
			assert.Equal(t, yes, r.TextOf(contract.FieldYpT0N0))
			assert.NotEmpty(t, r.TextOf(contract.FieldMPScore))
		}
	}
}

// UT-SMP-07: 未分组段落按规则目录默认采样。
func TestDefaultPolicy(t *testing.T) {
	sc := mustSchema(t)
	s := New(sc)
	fields := []contract.FieldID{contract.FieldER, contract.FieldFISH, contract.FieldStageIV, contract.FieldName}
	for _, r := range s.SampleSegment(fields, 50, "ungrouped", newRNG(12)) {
		for _, f := range fields[:3] {
			v, _ := r.Get(f)
			assert.True(t, sc.Validate(f, v), "字段 %s 取值 %q", f, v.String())
		}
		assert.Empty(t, r.TextOf(contract.FieldName))
	}

	empty := New(schema.Empty())
	for _, r := range empty.SampleSegment(fields, 5, "ungrouped", newRNG(13)) {
		assert.Equal(t, fields, r.Fields())
	}
}

// UT-SMP-08: 相同种子生成相同的段落池。
func TestPoolsDeterministic(t *testing.T) {
	clock := WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })
	s := New(mustSchema(t), clock)
	a, err := s.Pools(context.Background(), 20, 42, 3)
	require.NoError(t, err)
	b, err := s.Pools(context.Background(), 20, 42, 1)
	require.NoError(t, err)
	require.Len(t, a, len(schema.SegmentNames()))
	for name, pool := range a {
		require.Len(t, pool, 20)
		for i := range pool {
			assert.True(t, pool[i].Equal(b[name][i]), "段落 %s 第 %d 条不一致", name, i)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Pools(ctx, 5, 1, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
