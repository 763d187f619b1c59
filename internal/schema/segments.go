package schema

import "bcaugment/pkg/contract"

// 段落名称。
const (
	SegBasicInfo          = "basic_info"
	SegStageAndMetastasis = "stage_and_metastasis"
	SegSurgery            = "surgery"
	SegPathology          = "pathology"
	SegTumorSize          = "tumor_size"
	SegTreatment          = "treatment"
	SegResponse           = "response"
	SegPrognosis          = "prognosis"
	SegRisk               = "risk"
	SegStaging            = "staging"
)

// Segment: 按临床含义分组的字段集合。
type Segment struct {
	Name     string
	Fields   []contract.FieldID
	Required bool
}

var catalog = []Segment{
	{Name: SegBasicInfo, Required: true, Fields: []contract.FieldID{
		contract.FieldAge, contract.FieldMenopause, contract.FieldPS,
	}},
	{Name: SegStageAndMetastasis, Required: true, Fields: []contract.FieldID{
		contract.FieldStageIV, contract.FieldM1, contract.FieldDistantMetastasis,
		contract.FieldMetastasisSite, contract.FieldMetastasisOrRecurrence, contract.FieldRecurrence,
	}},
	{Name: SegSurgery, Required: true, Fields: []contract.FieldID{
		contract.FieldBreastConserving, contract.FieldRadicalSurgery, contract.FieldReoperable,
		contract.FieldMarginUnder1mm, contract.FieldMarginPositive, contract.FieldAxillaryDissection,
		contract.FieldNodePositive, contract.FieldNodeCountPreop, contract.FieldNodeCountPostop,
		contract.FieldRadicalSurgeryDate,
	}},
	{Name: SegPathology, Fields: []contract.FieldID{
		contract.FieldGrade, contract.FieldER, contract.FieldPR,
		contract.FieldHER2, contract.FieldFISH, contract.FieldKi67,
	}},
	{Name: SegTumorSize, Required: true, Fields: []contract.FieldID{
		contract.FieldTumorSizePre, contract.FieldTumorSizePost,
		contract.FieldTumorPreCT, contract.FieldTumorPreMRI, contract.FieldTumorPreUS, contract.FieldTumorPreExam,
		contract.FieldTumorPostCT, contract.FieldTumorPostMRI, contract.FieldTumorPostUS, contract.FieldTumorPostExam,
	}},
	{Name: SegTreatment, Fields: []contract.FieldID{
		contract.FieldDrugs, contract.FieldImmuneContraindication, contract.FieldNeoadjuvant,
		contract.FieldNeoadjuvantImmune, contract.FieldNeoadjuvantDualTarget,
	}},
	{Name: SegResponse, Fields: []contract.FieldID{
		contract.FieldPCR, contract.FieldYpT0N0, contract.FieldMPScore,
	}},
	{Name: SegPrognosis, Required: true, Fields: []contract.FieldID{
		contract.FieldDFS, contract.FieldRecurrenceDate,
	}},
	{Name: SegRisk, Fields: []contract.FieldID{contract.FieldGenomicHighRisk}},
	{Name: SegStaging, Fields: []contract.FieldID{
		contract.FieldCTNM, contract.FieldPTNM, contract.FieldYpTNM,
	}},
}

func cloneSegment(s Segment) Segment {
	s.Fields = append([]contract.FieldID(nil), s.Fields...)
	return s
}

// Segments 返回全部段落（固定顺序，调用方可自由修改副本）。
func Segments() []Segment {
	out := make([]Segment, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, cloneSegment(s))
	}
	return out
}

// SegmentByName 按名称查找段落。
func SegmentByName(name string) (Segment, bool) {
	for _, s := range catalog {
		if s.Name == name {
			return cloneSegment(s), true
		}
	}
	return Segment{}, false
}

// SegmentNames 返回全部段落名称。
func SegmentNames() []string { return namesWhere(func(Segment) bool { return true }) }

// RequiredSegments 返回必选段落名称。
func RequiredSegments() []string { return namesWhere(func(s Segment) bool { return s.Required }) }

// OptionalSegments 返回可选段落名称。
func OptionalSegments() []string { return namesWhere(func(s Segment) bool { return !s.Required }) }

func namesWhere(keep func(Segment) bool) []string {
	var out []string
	for _, s := range catalog {
		if keep(s) {
			out = append(out, s.Name)
		}
	}
	return out
}
