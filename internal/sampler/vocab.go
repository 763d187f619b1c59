package sampler

// schemeNames: 受控词表中的治疗方案名称（写入时追加“方案”后缀）。
var schemeNames = []string{
	"TCbHP", "THP", "TCbH", "TAC", "AT", "AC-T", "TP", "化疗 + PD-1/PD-L1 抑制剂", "AI 类单药", "AI+CDK4/6 抑制剂", "氟维司群",
	"OFS+AI", "OFS+AI+CDK4/6 抑制剂", "H", "HP", "T-DM1", "TC+H", "wTH", "AC-TH", "ddAC-ddT", "FAC-T", "FAC", "X",
	"AC", "TC", "TAM", "OFS+TAM", "吡咯替尼", "奈拉替尼 + 卡培他滨", "TXH", "TH", "NH", "NX", "吡咯替尼 + 卡培他滨", "LX",
	"拉帕替尼 + 曲妥珠单抗", "TX", "GP", "GT", "紫杉类单药", "长春瑞滨", "吉西他滨", "依托泊苷", "紫杉类 + 贝伐珠单抗", "奥拉帕利", "NP", "艾立布林",
	"优替德隆 + 卡培他滨", "卡培他滨 + 贝伐珠单抗", "氟维司群 + CDK4/6 抑制剂", "OFS + 氟维司群", "OFS + 氟维司群 + CDK4/6 抑制剂", "AI + 西达本胺",
	"AI + 依维莫司", "OFS+AI + 西达本胺", "孕激素", "托瑞米芬", "OFS + 孕激素", "OFS + 托瑞米芬", "OFS+AI + 依维莫司", "唑来膦酸", "伊班膦酸",
	"地舒单抗", "帕米磷酸二钠", "XH", "多西他赛", "白蛋白紫杉醇", "紫杉醇", "TAM-AI", "AC-TP", "奈拉替尼", "TAM+CDK4/6 抑制剂",
	"OFS+TAM+CDK4/6 抑制剂", "戈沙妥珠单抗", "图卡替尼 + 卡培他滨", "马吉妥昔单抗 + 化疗", "T-Dxd", "PD-1/PD-L1 抑制剂",
	"H+TKI", "TKI + 化疗", "白蛋白紫杉醇 + 其他化疗", "氟维司群 + AI", "OFS + 氟维司群 + AI", "骨保护", "马吉妥昔单抗", "阿贝西利", "帕米膦酸二钠",
	"伊尼妥单抗", "TH + 吡咯替尼", "TP + 帕博利珠单抗", "氟维司群 + 依维莫司", "阿培利司", "抗 HER-2 单抗联合紫衫类为基础的其他方案如 AC-THP",
	"蒽环联合紫衫方案：TAC、AT", "科学、合理设计的临床研究如：抗 HER-2 ADC 等", "以蒽环和紫衫为主的其他方案 AC-T", "H + 内分泌治疗", "部分乳腺短程照射 (APBI)",
	"部分乳腺照射 (PBI)", "全乳放疗 ± 瘤床加量", "全乳单周超大方案", "全乳放疗 ± 瘤床加量 + 区域淋巴结放疗", "低复发风险患者可考虑豁免术后放疗", "胸壁 ± 区域淋巴结放疗",
	"是否延长 AI 治疗尚存争议", "确定绝经者，可序贯使用 AI", "未绝经者使用 TAM 或 OFS+AI", "卡培他滨", "H + 化疗", "HP + 化疗", "拉帕替尼 + 卡培他滨",
	"甾体类 AI + 西达本胺", "甾体类 AI + 依维莫司", "甾体类 AI", "TAM 或托瑞米芬", "单药紫衫类：白蛋白紫杉醇、多西他赛、紫杉醇",
	"单药治疗：卡培他滨、长春瑞滨、吉西他滨、依托泊苷", "联合治疗：TX 方案、GT 方案、TP 方案", "联合治疗：白蛋白紫杉醇 + PD-1 抑制剂、紫衫类 + 贝伐珠单抗", "多柔比星脂质体",
	"化疗 + PD-1 抑制剂", "单药治疗：艾立布林、长春瑞滨、卡培他滨、吉西他滨", "联合治疗：NP 方案、GP 方案、优替德隆 + 卡培他滨、NX 方案",
	"单药治疗：白蛋白紫杉醇、戈沙妥珠单抗、依托泊苷", "联合治疗：卡培他滨 + 贝伐珠单抗、白蛋白紫杉醇 + 其他化疗", "全脑放疗", "鞘内注射",
	"HER-2 阳性患者，局部症状可控，可以在密切随访下考虑使用具", "姑息对症支持治疗", "脑转移最大径不超过 4cm，无明显占位效应 - SRS（适用于最大", "全脑放疗 ± 海马回保护", "fSRT",
	"短程全脑放疗", "手术切除 ± 术腔放疗", "短程全脑放疗或 fSRT", "全中枢放疗", "胸壁 + 包括腋窝在内的区域淋巴结放疗", "定期复查",
	"内分泌治疗方案需要根据月经情况制定，请在病程管理中填写月经信", "手术切除 + 术腔 SRS 或 fSRT", "TP-AC 联合帕博利珠单抗", "白蛋白紫杉醇 + PD-1 抑制剂",
	"GP+PD-1 抑制剂", "其他靶向药 + 内分泌",
}

// drugCategory: 按类别列出的药品名称，类别顺序固定。
type drugCategory struct {
	name  string
	drugs []string
}

var drugCatalog = []drugCategory{
	{"化疗", []string{"卡铂", "多西他赛", "紫杉醇", "白蛋白紫杉醇", "表柔比星", "多柔比星", "环磷酰胺", "顺铂", "卡培他滨", "吉西他滨", "长春瑞滨",
		"氟尿嘧啶", "艾立布林", "奥拉帕利", "贝伐珠单抗", "依托泊苷", "优替德隆", "戈沙妥珠单抗", "甲氨蝶呤", "吡柔比星", "多柔比星脂质体", "紫杉醇脂质体"}},
	{"靶向治疗", []string{"曲妥珠单抗", "拉帕替尼", "T-DM1", "帕妥珠单抗", "吡咯替尼", "奈拉替尼", "伊尼妥单抗", "T-Dxd", "图卡替尼", "马吉妥昔单抗"}},
	{"内分泌治疗", []string{"阿那曲唑", "来曲唑", "依西美坦", "氟维司群", "TAM", "托瑞米芬", "依维莫司", "甲地孕酮", "甲羟孕酮", "西达本胺",
		"阿贝西利", "哌柏西利", "达尔西利", "瑞波西利", "阿培利司"}},
	{"免疫治疗", []string{"帕博丽珠单抗", "特瑞普利单抗", "卡瑞丽珠单抗", "替雷利珠单抗"}},
}

var metastasisSites = []string{"肺", "肝", "骨", "脑", "其他"}

var (
	cTNMCodes  = []string{"cT1N0M0", "cT2N1M0", "cT3N2M0", "cT4N3M1", ""}
	pTNMCodes  = []string{"pT1N0M0", "pT2N1M0", "pT3N2M0", "pT4N3M1", ""}
	ypTNMCodes = []string{"ypT0N0", "ypT1N1M0", "ypT2N0M0", "ypT2N2M0", "ypT3N3M1", ""}
)
