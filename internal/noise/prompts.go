package noise

import (
	"fmt"
	"strings"

	"bcaugment/pkg/contract"
)

type promptSpec struct {
	subject string // 噪声主题
	detail  string // 类型特定要求
}

var promptSpecs = map[Type]promptSpec{
	TypeAdministrative: {"医院行政信息", "包含姓名、性别、年龄、住院号、入院日期、科室、主治医生等行政字段"},
	TypeHospitalInfo:   {"医院楼层、病房、编号信息", "包含病区、楼层、病房号、床位号、住院号等信息"},
	TypeExamination:    {"与乳腺癌无关的检查记录", "包含心电图、血压、体温、血常规等检查项目及结果，结果真实合理"},
	TypeElectronic:     {"电子病历系统痕迹", "包含打印时间、操作员、系统版本、页码等电子痕迹，如“打印时间：2024-01-15 14:30:25”"},
	TypeAddress:        {"地址与家庭信息", "包含现住址、联系电话、紧急联系人及关系等信息"},
	TypeDuplicate:      {"多次复制残留", "包含重复的字段名和重复的内容片段，模拟复制粘贴造成的重复与错乱"},
	TypeCovidTest:      {"核酸检测记录", "包含核酸检测结果、采样时间、检测机构等信息"},
	TypeTableHeader:    {"表格表头", "以表头字段开头，如“姓名 年龄 性别 科室 病房号”，随后给出与表头对应的一行取值"},
	TypeTableRowMerge:  {"表格行拼接", "多行表格数据被拼成一行，每行含姓名、年龄、性别、科室、床号等取值"},
	TypeLabResult:      {"详细检验结果", "包含血常规、肝肾功能、肿瘤标志物等检验项目、结果、单位与参考范围"},
	TypeSerialMerge:    {"串行报告拼接", "多份报告的编号、流水号、报告日期与结论首尾相连"},
	TypeDoctorAdvice:   {"医生建议或嘱托", "以“医生建议：”或“诊断建议：”开头，内容包括用药、复查、生活方式等注意事项"},
	TypeComputerMenu:   {"电脑屏幕菜单", "包含“文件 编辑 查看 工具 帮助”等菜单项、快捷键（如 Alt+F4、Ctrl+S）与菜单分隔符，可夹杂英文与乱码符号"},
}

// Prompt 构造噪声块指令。所有类型都要求“信息名称：具体信息”格式、禁止遮掩符号、
// 锁定身份三元组，并限制输出长度。
func Prompt(e Entry, context string, id contract.Identity) string {
	spec, ok := promptSpecs[e.Type]
	if !ok {
		spec = promptSpec{subject: string(e.Type), detail: "内容真实合理"}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "请生成一段%s的噪声文本，模拟真实病历扫描件中常见的OCR识别结果。要求：\n", spec.subject)
	fmt.Fprintf(&b, "1. 全部采用“信息名称：具体信息”格式，不要写叙述性句子；\n")
	fmt.Fprintf(&b, "2. %s；\n", spec.detail)
	fmt.Fprintf(&b, "3. 凡出现患者信息，必须为：姓名：%s，性别：%s，年龄：%d岁；\n", id.Name, contract.GenderFemale, id.Age)
	fmt.Fprintf(&b, "4. 医院、科室、病房、医生等名称直接虚构为真实名称，不允许使用*、某、XX等遮掩符号；\n")
	if e.Max > 0 {
		fmt.Fprintf(&b, "5. 长度控制在%d-%d字；\n", e.Min, e.Max)
	}
	fmt.Fprintf(&b, "不要使用 Markdown，直接输出文本。\n参考上下文：%s\n", context)
	return b.String()
}
