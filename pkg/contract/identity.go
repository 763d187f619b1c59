package contract

import "strconv"

// GenderFemale 是全部合成病例的固定性别。
const GenderFemale = "女"

// Identity: 绑定到单条记录的 (姓名, 年龄, 性别) 三元组。
// 记录派生的全部文本（病历正文与噪声块）在身份一致化之后必须引用同一三元组。
type Identity struct {
	Name   string `json:"姓名"`
	Age    int    `json:"年龄"`
	Gender string `json:"性别"`
}

// AgeText 返回年龄的十进制文本形式。
func (id Identity) AgeText() string { return strconv.Itoa(id.Age) }

// Valid 报告三元组是否完整可用。
func (id Identity) Valid() bool {
	return id.Name != "" && id.Age > 0 && id.Gender != ""
}
