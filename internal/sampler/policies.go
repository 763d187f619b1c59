package sampler

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"bcaugment/internal/schema"
	"bcaugment/pkg/contract"
)

const (
	yes = "是"
	no  = "否"
)

// Policy: 单个段落的采样策略。返回记录可包含多于请求集合的字段，投影由 Sampler 负责。
type Policy interface {
	Sample(rng *rand.Rand) *contract.Record
}

// PolicyFunc 将函数适配为 Policy。
type PolicyFunc func(rng *rand.Rand) *contract.Record

func (f PolicyFunc) Sample(rng *rand.Rand) *contract.Record { return f(rng) }

func choice(rng *rand.Rand, opts ...string) string { return opts[rng.IntN(len(opts))] }

// pickDistinct 无放回抽取 k 个元素（保持抽取顺序）。
func pickDistinct[T any](rng *rand.Rand, pool []T, k int) []T {
	if k > len(pool) {
		k = len(pool)
	}
	idx := rng.Perm(len(pool))[:k]
	out := make([]T, 0, k)
	for _, i := range idx {
		out = append(out, pool[i])
	}
	return out
}

// BasicInfo: 年龄、绝经状态、PS。
type BasicInfo struct{}

func (BasicInfo) Sample(rng *rand.Rand) *contract.Record {
	r := &contract.Record{}
	age := 18 + rng.IntN(73)
	r.SetText(contract.FieldAge, strconv.Itoa(age))
	switch {
	case age < 45:
		r.SetText(contract.FieldMenopause, no)
	case age > 60:
		r.SetText(contract.FieldMenopause, choice(rng, yes, ""))
	default:
		r.SetText(contract.FieldMenopause, choice(rng, yes, no))
	}
	r.SetText(contract.FieldPS, choice(rng, "0", "1", "2", "3", "4", "5", ""))
	return r
}

// StageMetastasis: 分期与转移。蕴含链 IV期⇒M1分期⇒远处转移。
// StageIV 非空时固定 IV期 取值，否则随机。
type StageMetastasis struct {
	StageIV string
}

func (p StageMetastasis) Sample(rng *rand.Rand) *contract.Record {
	r := &contract.Record{}
	stageIV := p.StageIV
	if stageIV == "" {
		stageIV = choice(rng, yes, no)
	}
	m1 := yes
	if stageIV != yes {
		m1 = choice(rng, yes, no)
	}
	distant := yes
	if stageIV != yes && m1 != yes {
		distant = choice(rng, yes, no)
	}
	recurrence := choice(rng, yes, no)
	site := ""
	if distant == yes || rng.Float64() < 0.3 {
		site = strings.Join(pickDistinct(rng, metastasisSites, 1+rng.IntN(3)), ",")
	}
	either := ""
	if recurrence == yes || distant == yes || m1 == yes || site != "" {
		either = yes
	}
	r.SetText(contract.FieldStageIV, stageIV)
	r.SetText(contract.FieldM1, m1)
	r.SetText(contract.FieldDistantMetastasis, distant)
	r.SetText(contract.FieldRecurrence, recurrence)
	r.SetText(contract.FieldMetastasisSite, site)
	r.SetText(contract.FieldMetastasisOrRecurrence, either)
	return r
}

// Surgery: 保乳与根治互斥；阳性个数仅在对应标志为“是”时填写；
// 根治手术时间在过去 5 年内均匀回溯。
type Surgery struct {
	Now func() time.Time
}

func (p Surgery) Sample(rng *rand.Rand) *contract.Record {
	r := &contract.Record{}
	conserving := choice(rng, yes, no, "")
	radical := yes
	if conserving != no {
		radical = choice(rng, "", no)
	}
	reop := ""
	if rng.Float64() < 0.3 {
		reop = choice(rng, yes, no, "")
	}
	r.SetText(contract.FieldBreastConserving, conserving)
	r.SetText(contract.FieldRadicalSurgery, radical)
	r.SetText(contract.FieldReoperable, reop)
	r.SetText(contract.FieldMarginUnder1mm, choice(rng, yes, no))
	r.SetText(contract.FieldMarginPositive, choice(rng, yes, no))
	dissection := choice(rng, yes, "")
	nodePos := choice(rng, yes, no)
	r.SetText(contract.FieldAxillaryDissection, dissection)
	r.SetText(contract.FieldNodePositive, nodePos)
	pre, post := "", ""
	if nodePos == yes {
		pre = strconv.Itoa(rng.IntN(21))
	}
	if dissection == yes {
		post = strconv.Itoa(rng.IntN(21))
	}
	r.SetText(contract.FieldNodeCountPreop, pre)
	r.SetText(contract.FieldNodeCountPostop, post)
	date := ""
	if radical == yes {
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}
		date = now().AddDate(0, 0, -rng.IntN(5*365+1)).Format(schema.DateLayout)
	}
	r.SetText(contract.FieldRadicalSurgeryDate, date)
	return r
}

// Pathology: 组织学分级与免疫组化。
type Pathology struct{}

func (Pathology) Sample(rng *rand.Rand) *contract.Record {
	r := &contract.Record{}
	r.SetText(contract.FieldGrade, choice(rng, "高分化", "中分化", "低分化", ""))
	r.SetText(contract.FieldER, strconv.Itoa(rng.IntN(101)))
	r.SetText(contract.FieldPR, strconv.Itoa(rng.IntN(101)))
	r.SetText(contract.FieldHER2, choice(rng, "0", "1+", "2+", "3+", ""))
	r.SetText(contract.FieldFISH, choice(rng, "未扩增", "扩增", ""))
	r.SetText(contract.FieldKi67, strconv.Itoa(rng.IntN(101)))
	return r
}

// TumorSize: 术前主值 U[1,13]cm，术后 = max(0.5, 术前 − U[0.5,4])；
// 每侧 1–4 个影像学子测量围绕主值 ±2cm。以 0.1cm 为单位采样，
// 术后全部子测量严格小于术前最小子测量。规范主字段按 MRI、CT、B超、查体 优先。
type TumorSize struct{}

func (TumorSize) Sample(rng *rand.Rand) *contract.Record {
	r := &contract.Record{}
	pre10 := 10 + rng.IntN(121)
	post10 := max(5, pre10-(5+rng.IntN(36)))

	preVals := make(map[contract.FieldID]int)
	minPre := 130
	for _, f := range pickDistinct(rng, contract.TumorPreModalities, 1+rng.IntN(4)) {
		lo, hi := max(10, pre10-20), min(130, pre10+20)
		v := lo + rng.IntN(hi-lo+1)
		preVals[f] = v
		minPre = min(minPre, v)
	}
	postVals := make(map[contract.FieldID]int)
	for _, f := range pickDistinct(rng, contract.TumorPostModalities, 1+rng.IntN(4)) {
		lo, hi := max(5, post10-20), min(post10+20, minPre-1)
		if lo > hi {
			lo = hi
		}
		postVals[f] = lo + rng.IntN(hi-lo+1)
	}
	for _, f := range contract.TumorPreModalities {
		if v, ok := preVals[f]; ok {
			r.SetText(f, tenths(v))
		}
	}
	for _, f := range contract.TumorPostModalities {
		if v, ok := postVals[f]; ok {
			r.SetText(f, tenths(v))
		}
	}
	r.SetText(contract.FieldTumorSizePre, byPriority(r, contract.TumorPreModalities))
	r.SetText(contract.FieldTumorSizePost, byPriority(r, contract.TumorPostModalities))
	return r
}

func tenths(v int) string { return strconv.FormatFloat(float64(v)/10, 'f', 1, 64) }

func byPriority(r *contract.Record, order []contract.FieldID) string {
	for _, f := range order {
		if r.Has(f) {
			return r.TextOf(f)
		}
	}
	return ""
}

// Treatment: 50% 方案名称（1–2 个），否则按类别独立纳入药品明细。
// 新辅助子标志仅在有新辅助治疗时填写。
type Treatment struct{}

func (Treatment) Sample(rng *rand.Rand) *contract.Record {
	r := &contract.Record{}
	if rng.Float64() < 0.5 {
		picked := pickDistinct(rng, schemeNames, 1+rng.IntN(2))
		for i := range picked {
			picked[i] += "方案"
		}
		r.Set(contract.FieldDrugs, contract.Schemes(picked...))
	} else {
		var items []contract.Drug
		for _, cat := range drugCatalog {
			if rng.Float64() >= 0.5 {
				continue
			}
			for _, d := range pickDistinct(rng, cat.drugs, 1+rng.IntN(min(3, len(cat.drugs)))) {
				items = append(items, contract.Drug{Name: d, Category: cat.name})
			}
		}
		r.Set(contract.FieldDrugs, contract.Drugs(items...))
	}
	r.SetText(contract.FieldImmuneContraindication, choice(rng, yes, no, ""))
	neo := choice(rng, yes, no, "")
	r.SetText(contract.FieldNeoadjuvant, neo)
	immune, dual := "", ""
	if neo == yes {
		immune = choice(rng, yes, no)
		dual = choice(rng, yes, no)
	}
	r.SetText(contract.FieldNeoadjuvantImmune, immune)
	r.SetText(contract.FieldNeoadjuvantDualTarget, dual)
	return r
}

// 预后采样的年份边界：手术年份取 [prognosisMinYear, prognosisMaxYear)。
const (
	prognosisMinYear = 2010
	prognosisMaxYear = 2025
)

// Prognosis: 手术日期、复发时间与 DFS（月）。
// Recurrence 为来自分期段的复发提示（是/否），为空时 50/50。
// 复发日期超过上限年份时回退为手术日期后 12×30 天。
type Prognosis struct {
	Recurrence string
}

func (p Prognosis) Sample(rng *rand.Rand) *contract.Record {
	r := &contract.Record{}
	base := time.Date(prognosisMinYear+rng.IntN(prognosisMaxYear-prognosisMinYear), time.Month(1+rng.IntN(12)), 1+rng.IntN(28), 0, 0, 0, 0, time.UTC)
	r.SetText(contract.FieldRadicalSurgeryDate, base.Format(schema.DateLayout))

	recur := p.Recurrence == yes
	if p.Recurrence == "" {
		recur = rng.Float64() < 0.5
	}
	if !recur {
		r.SetText(contract.FieldRecurrenceDate, "")
		r.SetText(contract.FieldDFS, "")
		return r
	}
	at := base.AddDate(0, 0, (6+rng.IntN(55))*30)
	if at.Year() > prognosisMaxYear {
		at = base.AddDate(0, 0, 12*30)
	}
	dfs := (at.Year()-base.Year())*12 + int(at.Month()) - int(base.Month())
	r.SetText(contract.FieldRecurrenceDate, at.Format(schema.DateLayout))
	r.SetText(contract.FieldDFS, strconv.Itoa(dfs))
	return r
}

// Response: pCR 为“是”时 ypT0N0 必为“是”；MP评分 在 pCR 为“是”或 50% 概率下填写。
type Response struct{}

func (Response) Sample(rng *rand.Rand) *contract.Record {
	r := &contract.Record{}
	pcr := choice(rng, yes, no, "")
	yp := yes
	if pcr != yes {
		yp = choice(rng, no, "")
	}
	mp := ""
	if pcr == yes || rng.Float64() < 0.5 {
		mp = strconv.Itoa(1 + rng.IntN(5))
	}
	r.SetText(contract.FieldPCR, pcr)
	r.SetText(contract.FieldYpT0N0, yp)
	r.SetText(contract.FieldMPScore, mp)
	return r
}

type Risk struct{}

func (Risk) Sample(rng *rand.Rand) *contract.Record {
	r := &contract.Record{}
	r.SetText(contract.FieldGenomicHighRisk, choice(rng, yes, no, ""))
	return r
}

// Staging: 三种 TNM 各自独立抽取，均可为空。
type Staging struct{}

func (Staging) Sample(rng *rand.Rand) *contract.Record {
	r := &contract.Record{}
	r.SetText(contract.FieldCTNM, choice(rng, cTNMCodes...))
	r.SetText(contract.FieldPTNM, choice(rng, pTNMCodes...))
	r.SetText(contract.FieldYpTNM, choice(rng, ypTNMCodes...))
	return r
}

// Default: 未分组字段按规则目录采样：有范围取整数区间，否则取候选项，否则取默认值。
type Default struct {
	Schema *schema.Schema
	Fields []contract.FieldID
}

func (p Default) Sample(rng *rand.Rand) *contract.Record {
	r := &contract.Record{}
	for _, f := range p.Fields {
		r.SetText(f, p.field(rng, f))
	}
	return r
}

func (p Default) field(rng *rand.Rand, f contract.FieldID) string {
	if rg, ok := p.Schema.Range(f); ok {
		lo, hi := int(rg.Min), int(rg.Max)
		if hi >= lo {
			return strconv.Itoa(lo + rng.IntN(hi-lo+1))
		}
	}
	if opts := p.Schema.Options(f); len(opts) > 0 {
		return choice(rng, opts...)
	}
	return p.Schema.Default(f)
}
