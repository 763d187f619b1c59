package express

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bcaugment/internal/combine"
	"bcaugment/internal/sampler"
	"bcaugment/internal/schema"
	"bcaugment/pkg/contract"
)

func rng(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, 11)) }

func record(kv ...string) *contract.Record {
	r := &contract.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		f, ok := contract.LookupField(kv[i])
		if !ok {
			panic("unknown field " + kv[i])
		}
		r.SetText(f, kv[i+1])
	}
	return r
}

// UT-EXP-01: 典型病例的短语顺序与字段删除。
func TestCompilePhrases(t *testing.T) {
	rec := record(
		"年龄", "56",
		"绝经状态", "是",
		"是否保乳", "否",
		"远处转移", "是",
		"转移或复发", "是",
		"转移位置", "肺，肝及 骨",
		"复发", "是",
		"复发时间", "2019-05-03",
		"肿块大小CM(术前)", "3.4",
		"肿块大小CM(术后)", "2.1",
		"根治手术时间", "2018-01-02",
		"组织学分级", "中分化",
		"ER%", "80",
		"Her-2免疫组化", "2+",
		"Ki-67%", "30",
		"腋窝淋巴结是否有阳性", "是",
		"腋窝淋巴结阳性个数(术前)", "",
		"腋窝淋巴结阳性个数(术后)", "3",
		"切缘阳性", "否",
		"切缘<1mm", "是",
		"cTNM", "cT2N1M0",
		"ypTNM", "ypT0N0",
		"pCR", "是",
		"ypT0N0", "否",
		"PS", "1",
	)
	out := Compile(rec, rng(1))
	assert.Equal(t, []string{
		"已绝经",
		"行根治手术",
		"2019-05-03复发",
		"肺、肝、骨转移",
		"术前肿块大小3.4cm，术后2.1cm",
		"2018-01-02行根治手术",
		"中分化",
		"免疫组化：ER(80%)，HER-2(2+)，Ki-67(30%)",
		"腋窝淋巴结转移(3个)",
		"切缘阴性",
		"切缘<1mm",
		"临床分期cT2N1M0",
		"新辅助治疗后分期ypT0N0",
		"pCR",
	}, out.Texts())

	assert.Equal(t, []contract.FieldID{
		contract.FieldAge, contract.FieldNodeCountPreop, contract.FieldYpT0N0, contract.FieldPS,
	}, out.Fields.Fields())
	assert.Equal(t, "56", rec.TextOf(contract.FieldAge), "输入记录不被修改")
	assert.True(t, rec.Has(contract.FieldMenopause))
}

// UT-EXP-02: 泛化标志被具体短语吸收并记入来源。
func TestGenericFlagsAbsorbed(t *testing.T) {
	rec := record("远处转移", "是", "转移或复发", "是", "转移位置", "脑", "复发", "否")
	out := Compile(rec, rng(2))
	require.Len(t, out.Expressions, 1)
	assert.Equal(t, "脑转移", out.Expressions[0].Text)
	assert.ElementsMatch(t, []contract.FieldID{
		contract.FieldMetastasisSite, contract.FieldDistantMetastasis, contract.FieldMetastasisOrRecurrence,
	}, out.Expressions[0].Sources)
	assert.Equal(t, []contract.FieldID{contract.FieldRecurrence}, out.Fields.Fields())

	blank := record("远处转移", "是", "转移位置", "，及")
	out = Compile(blank, rng(2))
	assert.Empty(t, out.Expressions)
	assert.Equal(t, 2, out.Fields.Len(), "部位为空时不删除任何字段")
}

func TestMPScorePhrasings(t *testing.T) {
	seen := map[string]bool{}
	r := rng(3)
	for i := 0; i < 100; i++ {
		out := Compile(record("MP评分", "4"), r)
		require.Len(t, out.Expressions, 1)
		seen[out.Expressions[0].Text] = true
	}
	assert.Equal(t, map[string]bool{"MP评分为4分": true, "MP评分为4": true, "MP4分": true}, seen)

	out := Compile(record("MP评分", "无"), r)
	assert.Empty(t, out.Expressions)
	assert.True(t, out.Fields.Has(contract.FieldMPScore))
}

func TestDrugPhrases(t *testing.T) {
	rec := &contract.Record{}
	rec.Set(contract.FieldDrugs, contract.Schemes("THP方案", "AC-T方案"))
	assert.Equal(t, []string{"治疗方案：THP方案, AC-T方案"}, Compile(rec, rng(4)).Texts())

	rec.Set(contract.FieldDrugs, contract.Drugs(
		contract.Drug{Name: "紫杉醇", Category: "化疗"},
		contract.Drug{Name: "", Category: "化疗"},
		contract.Drug{Name: "曲妥珠单抗", Category: "靶向治疗"},
	))
	out := Compile(rec, rng(4))
	assert.Equal(t, []string{"使用药物：紫杉醇, 曲妥珠单抗"}, out.Texts())
	assert.Zero(t, out.Fields.Len())

	rec.Set(contract.FieldDrugs, contract.Drugs())
	out = Compile(rec, rng(4))
	assert.Empty(t, out.Expressions)
	assert.True(t, out.Fields.Has(contract.FieldDrugs))
}

func TestNodeFallbacks(t *testing.T) {
	assert.Equal(t, []string{"腋窝淋巴结转移(5个)"},
		Compile(record("腋窝淋巴结是否有阳性", "是", "腋窝淋巴结阳性个数(术前)", "5", "腋窝淋巴结阳性个数(术后)", "2"), rng(5)).Texts())
	assert.Equal(t, []string{"腋窝淋巴结转移"},
		Compile(record("腋窝淋巴结是否有阳性", "是"), rng(5)).Texts())
	out := Compile(record("腋窝淋巴结是否有阳性", "否", "腋窝淋巴结阳性个数(术后)", "2"), rng(5))
	assert.Empty(t, out.Expressions)
	assert.Equal(t, 2, out.Fields.Len())
}

// UT-EXP-03: 覆盖往返：每个非空原始字段要么保留，要么出现在某条短语的来源中。
func TestCoverageRoundTrip(t *testing.T) {
	sc, err := schema.Default()
	require.NoError(t, err)
	pools, err := sampler.New(sc).Pools(context.Background(), 40, 5, 2)
	require.NoError(t, err)
	c := combine.New(pools)
	r := rng(6)
	for i := 0; i < 300; i++ {
		res, err := c.Combine(r)
		require.NoError(t, err)
		out := Compile(res.Record, r)
		covered := map[contract.FieldID]bool{}
		for _, e := range out.Expressions {
			assert.NotEmpty(t, e.Text)
			for _, f := range e.Sources {
				covered[f] = true
			}
		}
		for _, f := range res.Record.Fields() {
			if !res.Record.NonEmpty(f) {
				continue
			}
			assert.True(t, out.Fields.Has(f) || covered[f], "字段 %s 被删除但无短语承载", f)
		}
	}
}

func TestCompiledJSON(t *testing.T) {
	out := Compile(record("绝经状态", "否", "PS", "2"), rng(7))
	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"expressions":["未绝经"],"PS":"2"}`, string(b))

	b, err = json.Marshal(Compile(record("绝经状态", "否"), rng(7)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"expressions":["未绝经"]}`, string(b))
}
