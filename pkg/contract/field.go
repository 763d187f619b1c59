package contract

import "fmt"

// FieldID: 病例字段的枚举标识。文本形式为字段的中文规范名（JSON 键即规范名）。
type FieldID uint8

const (
	FieldAge FieldID = iota + 1
	FieldMenopause
	FieldPS
	FieldStageIV
	FieldM1
	FieldDistantMetastasis
	FieldMetastasisSite
	FieldMetastasisOrRecurrence
	FieldRecurrence
	FieldBreastConserving
	FieldRadicalSurgery
	FieldReoperable
	FieldMarginUnder1mm
	FieldMarginPositive
	FieldAxillaryDissection
	FieldNodePositive
	FieldNodeCountPreop
	FieldNodeCountPostop
	FieldRadicalSurgeryDate
	FieldGrade
	FieldER
	FieldPR
	FieldHER2
	FieldFISH
	FieldKi67
	FieldTumorSizePre
	FieldTumorSizePost
	FieldTumorPreMRI
	FieldTumorPreCT
	FieldTumorPreUS
	FieldTumorPreExam
	FieldTumorPostMRI
	FieldTumorPostCT
	FieldTumorPostUS
	FieldTumorPostExam
	FieldDrugs
	FieldImmuneContraindication
	FieldNeoadjuvant
	FieldNeoadjuvantImmune
	FieldNeoadjuvantDualTarget
	FieldPCR
	FieldYpT0N0
	FieldMPScore
	FieldDFS
	FieldRecurrenceDate
	FieldGenomicHighRisk
	FieldCTNM
	FieldPTNM
	FieldYpTNM
	FieldName

	fieldEnd
)

var fieldNames = [...]string{
	FieldAge:                    "年龄",
	FieldMenopause:              "绝经状态",
	FieldPS:                     "PS",
	FieldStageIV:                "IV期",
	FieldM1:                     "M1分期",
	FieldDistantMetastasis:      "远处转移",
	FieldMetastasisSite:         "转移位置",
	FieldMetastasisOrRecurrence: "转移或复发",
	FieldRecurrence:             "复发",
	FieldBreastConserving:       "是否保乳",
	FieldRadicalSurgery:         "已行根治手术",
	FieldReoperable:             "可再次手术",
	FieldMarginUnder1mm:         "切缘<1mm",
	FieldMarginPositive:         "切缘阳性",
	FieldAxillaryDissection:     "是否腋窝清扫",
	FieldNodePositive:           "腋窝淋巴结是否有阳性",
	FieldNodeCountPreop:         "腋窝淋巴结阳性个数(术前)",
	FieldNodeCountPostop:        "腋窝淋巴结阳性个数(术后)",
	FieldRadicalSurgeryDate:     "根治手术时间",
	FieldGrade:                  "组织学分级",
	FieldER:                     "ER%",
	FieldPR:                     "PR%",
	FieldHER2:                   "Her-2免疫组化",
	FieldFISH:                   "FISH",
	FieldKi67:                   "Ki-67%",
	FieldTumorSizePre:           "肿块大小CM(术前)",
	FieldTumorSizePost:          "肿块大小CM(术后)",
	FieldTumorPreMRI:            "术前肿块大小CM(MRI)",
	FieldTumorPreCT:             "术前肿块大小CM(CT)",
	FieldTumorPreUS:             "术前肿块大小CM(B超)",
	FieldTumorPreExam:           "术前肿块大小CM(查体)",
	FieldTumorPostMRI:           "术后肿块大小CM(MRI)",
	FieldTumorPostCT:            "术后肿块大小CM(CT)",
	FieldTumorPostUS:            "术后肿块大小CM(B超)",
	FieldTumorPostExam:          "术后肿块大小CM(查体)",
	FieldDrugs:                  "药品信息",
	FieldImmuneContraindication: "免疫禁忌",
	FieldNeoadjuvant:            "有新辅助治疗",
	FieldNeoadjuvantImmune:      "新辅助治疗使用免疫",
	FieldNeoadjuvantDualTarget:  "新辅助治疗使用双靶",
	FieldPCR:                    "pCR",
	FieldYpT0N0:                 "ypT0N0",
	FieldMPScore:                "MP评分",
	FieldDFS:                    "DFS（月）",
	FieldRecurrenceDate:         "复发时间",
	FieldGenomicHighRisk:        "基因高风险",
	FieldCTNM:                   "cTNM",
	FieldPTNM:                   "pTNM",
	FieldYpTNM:                  "ypTNM",
	FieldName:                   "姓名",
}

var fieldByName = func() map[string]FieldID {
	m := make(map[string]FieldID, len(fieldNames))
	for id := FieldAge; id < fieldEnd; id++ {
		m[fieldNames[id]] = id
	}
	return m
}()

// 影像学肿块大小字段：按模态优先级（MRI、CT、B超、查体）排列。
var (
	TumorPreModalities  = []FieldID{FieldTumorPreMRI, FieldTumorPreCT, FieldTumorPreUS, FieldTumorPreExam}
	TumorPostModalities = []FieldID{FieldTumorPostMRI, FieldTumorPostCT, FieldTumorPostUS, FieldTumorPostExam}
)

// AnchorFields: 组合修正阶段需要在嵌套子映射间保持一致的锚点字段。
var AnchorFields = []FieldID{FieldAge, FieldRadicalSurgeryDate, FieldRecurrenceDate, FieldMetastasisSite, FieldDrugs}

// AllFields 返回全部字段（声明顺序）。
func AllFields() []FieldID {
	out := make([]FieldID, 0, int(fieldEnd)-1)
	for id := FieldAge; id < fieldEnd; id++ {
		out = append(out, id)
	}
	return out
}

// LookupField 按中文规范名查找字段。
func LookupField(name string) (FieldID, bool) {
	id, ok := fieldByName[name]
	return id, ok
}

// Valid 报告标识是否为已登记字段。
func (f FieldID) Valid() bool { return f > 0 && f < fieldEnd }

func (f FieldID) String() string {
	if !f.Valid() {
		return fmt.Sprintf("FieldID(%d)", uint8(f))
	}
	return fieldNames[f]
}

func (f FieldID) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownField, uint8(f))
	}
	return []byte(fieldNames[f]), nil
}

func (f *FieldID) UnmarshalText(b []byte) error {
	id, ok := LookupField(string(b))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, string(b))
	}
	*f = id
	return nil
}

// ParseFields 将字段名列表转为 FieldID；任一未知名即报错。
func ParseFields(names []string) ([]FieldID, error) {
	out := make([]FieldID, 0, len(names))
	for _, n := range names {
		id, ok := LookupField(n)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, n)
		}
		out = append(out, id)
	}
	return out, nil
}
