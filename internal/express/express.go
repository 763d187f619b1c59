// Package express 将病例字段改写为简短的临床表达短语，并删除被短语取代的原始字段。
package express

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"strings"

	"bcaugment/pkg/contract"
)

// Expression: 一条表达短语及其取代的原始字段。
type Expression struct {
	Text    string             `json:"text"`
	Sources []contract.FieldID `json:"sources"`
}

// Compiled: 编译产物：有序短语列表 + 未被取代的字段。
type Compiled struct {
	Expressions []Expression
	Fields      *contract.Record
}

// Texts 返回短语文本列表。
func (c Compiled) Texts() []string {
	out := make([]string, 0, len(c.Expressions))
	for _, e := range c.Expressions {
		out = append(out, e.Text)
	}
	return out
}

// MarshalJSON 输出扁平形态：{"expressions":[...], ...保留字段}。
func (c Compiled) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	texts, err := json.Marshal(c.Texts())
	if err != nil {
		return nil, err
	}
	buf.WriteString(`{"expressions":`)
	buf.Write(texts)
	if c.Fields.Len() > 0 {
		fields, err := c.Fields.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(fields[1:])
		return buf.Bytes(), nil
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

const yes, no = "是", "否"

type state struct {
	in     *contract.Record
	rng    *rand.Rand
	out    []Expression
	gone   map[contract.FieldID]bool
	absorb map[contract.FieldID][]contract.FieldID
}

func (s *state) text(f contract.FieldID) string { return s.in.TextOf(f) }

// emit 追加短语并删除其来源字段（含被吸收的泛化标志）。
func (s *state) emit(text string, sources ...contract.FieldID) {
	var all []contract.FieldID
	for _, f := range sources {
		all = append(all, f)
		for _, a := range s.absorb[f] {
			if s.in.Has(a) {
				all = append(all, a)
			}
		}
	}
	for _, f := range all {
		s.gone[f] = true
	}
	s.out = append(s.out, Expression{Text: text, Sources: all})
}

type rule func(s *state)

// 规则顺序即短语顺序。
var rules = []rule{
	genericFlags,
	menopause,
	breastConserving,
	recurrenceDate,
	metastasisSite,
	tumorSize,
	mpScore,
	surgeryDate,
	grade,
	immunohistochemistry,
	axillaryNodes,
	margins,
	tnm,
	response,
	drugs,
}

// Compile 依序应用规则表。rng 仅用于 MP评分 的同义措辞选择。输入记录不被修改。
func Compile(rec *contract.Record, rng *rand.Rand) Compiled {
	s := &state{
		in:     rec,
		rng:    rng,
		gone:   make(map[contract.FieldID]bool),
		absorb: make(map[contract.FieldID][]contract.FieldID),
	}
	for _, r := range rules {
		r(s)
	}
	left := &contract.Record{}
	for _, f := range rec.Fields() {
		if s.gone[f] {
			continue
		}
		v, _ := rec.Get(f)
		left.Set(f, v.Clone())
	}
	return Compiled{Expressions: s.out, Fields: left}
}

// genericFlags: 具体转移部位或复发时间存在时，泛化的转移/复发标志由对应短语吸收。
func genericFlags(s *state) {
	if sites(s.text(contract.FieldMetastasisSite)) != nil {
		s.absorb[contract.FieldMetastasisSite] = []contract.FieldID{contract.FieldDistantMetastasis, contract.FieldMetastasisOrRecurrence}
	}
	if s.text(contract.FieldRecurrenceDate) != "" {
		s.absorb[contract.FieldRecurrenceDate] = []contract.FieldID{contract.FieldRecurrence, contract.FieldMetastasisOrRecurrence}
	}
}

func menopause(s *state) {
	switch s.text(contract.FieldMenopause) {
	case yes:
		s.emit("已绝经", contract.FieldMenopause)
	case no:
		s.emit("未绝经", contract.FieldMenopause)
	}
}

func breastConserving(s *state) {
	switch s.text(contract.FieldBreastConserving) {
	case yes:
		s.emit("行保乳手术", contract.FieldBreastConserving)
	case no:
		s.emit("行根治手术", contract.FieldBreastConserving)
	}
}

func recurrenceDate(s *state) {
	if d := s.text(contract.FieldRecurrenceDate); d != "" {
		s.emit(d+"复发", contract.FieldRecurrenceDate)
	}
}

var siteDelims = strings.NewReplacer("，", ",", "及", ",", " ", "")

func sites(raw string) []string {
	var out []string
	for _, p := range strings.Split(siteDelims.Replace(raw), ",") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func metastasisSite(s *state) {
	if parts := sites(s.text(contract.FieldMetastasisSite)); parts != nil {
		s.emit(strings.Join(parts, "、")+"转移", contract.FieldMetastasisSite)
	}
}

func tumorSize(s *state) {
	pre, post := s.text(contract.FieldTumorSizePre), s.text(contract.FieldTumorSizePost)
	switch {
	case pre != "" && post != "":
		s.emit("术前肿块大小"+pre+"cm，术后"+post+"cm", contract.FieldTumorSizePre, contract.FieldTumorSizePost)
	case pre != "":
		s.emit("肿块大小"+pre+"cm", contract.FieldTumorSizePre)
	case post != "":
		s.emit("肿块大小"+post+"cm", contract.FieldTumorSizePost)
	}
}

func mpScore(s *state) {
	v := s.text(contract.FieldMPScore)
	if v == "" || v == "无" {
		return
	}
	phr := []string{"MP评分为" + v + "分", "MP评分为" + v, "MP" + v + "分"}
	s.emit(phr[s.rng.IntN(len(phr))], contract.FieldMPScore)
}

func surgeryDate(s *state) {
	if d := s.text(contract.FieldRadicalSurgeryDate); d != "" {
		s.emit(d+"行根治手术", contract.FieldRadicalSurgeryDate)
	}
}

func grade(s *state) {
	if g := s.text(contract.FieldGrade); g != "" {
		s.emit(g, contract.FieldGrade)
	}
}

func immunohistochemistry(s *state) {
	panel := []struct {
		f      contract.FieldID
		label  string
		suffix string
	}{
		{contract.FieldER, "ER", "%"},
		{contract.FieldPR, "PR", "%"},
		{contract.FieldHER2, "HER-2", ""},
		{contract.FieldFISH, "FISH", ""},
		{contract.FieldKi67, "Ki-67", "%"},
	}
	var parts []string
	var used []contract.FieldID
	for _, m := range panel {
		if v := s.text(m.f); v != "" {
			parts = append(parts, m.label+"("+v+m.suffix+")")
			used = append(used, m.f)
		}
	}
	if len(parts) > 0 {
		s.emit("免疫组化："+strings.Join(parts, "，"), used...)
	}
}

func axillaryNodes(s *state) {
	if s.text(contract.FieldNodePositive) != yes {
		return
	}
	if n := s.text(contract.FieldNodeCountPreop); n != "" {
		s.emit("腋窝淋巴结转移("+n+"个)", contract.FieldNodePositive, contract.FieldNodeCountPreop)
		return
	}
	if n := s.text(contract.FieldNodeCountPostop); n != "" {
		s.emit("腋窝淋巴结转移("+n+"个)", contract.FieldNodePositive, contract.FieldNodeCountPostop)
		return
	}
	s.emit("腋窝淋巴结转移", contract.FieldNodePositive)
}

func margins(s *state) {
	switch s.text(contract.FieldMarginPositive) {
	case yes:
		s.emit("切缘阳性", contract.FieldMarginPositive)
	case no:
		s.emit("切缘阴性", contract.FieldMarginPositive)
	}
	if s.text(contract.FieldMarginUnder1mm) == yes {
		s.emit("切缘<1mm", contract.FieldMarginUnder1mm)
	}
}

func tnm(s *state) {
	for _, m := range []struct {
		f      contract.FieldID
		prefix string
	}{
		{contract.FieldCTNM, "临床分期"},
		{contract.FieldPTNM, "病理分期"},
		{contract.FieldYpTNM, "新辅助治疗后分期"},
	} {
		if v := s.text(m.f); v != "" {
			s.emit(m.prefix+v, m.f)
		}
	}
}

func response(s *state) {
	if s.text(contract.FieldPCR) == yes {
		s.emit("pCR", contract.FieldPCR)
	}
	if s.text(contract.FieldYpT0N0) == yes {
		s.emit("ypT0N0", contract.FieldYpT0N0)
	}
}

func drugs(s *state) {
	v, ok := s.in.Get(contract.FieldDrugs)
	if !ok {
		return
	}
	switch v.Kind() {
	case contract.KindSchemes:
		if names := v.Schemes(); len(names) > 0 {
			s.emit("治疗方案："+strings.Join(names, ", "), contract.FieldDrugs)
		}
	case contract.KindDrugs:
		var names []string
		for _, d := range v.Drugs() {
			if d.Name != "" {
				names = append(names, d.Name)
			}
		}
		if len(names) > 0 {
			s.emit("使用药物："+strings.Join(names, ", "), contract.FieldDrugs)
		}
	}
}
