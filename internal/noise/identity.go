package noise

import (
	"hash/fnv"
	"math/rand/v2"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"bcaugment/pkg/contract"
)

var (
	surnames   = []string{"王", "李", "张", "刘", "陈", "杨", "赵", "黄", "周", "吴", "徐", "孙", "胡", "朱", "高", "林", "何", "郭", "马", "罗"}
	givenNames = []string{"丽", "敏", "华", "芳", "娟", "秀英", "红", "梅", "燕", "霞", "萍", "玲", "静", "洁", "娜", "莉", "艳", "倩", "雪", "玉", "丹", "婷", "慧", "璐", "佳", "璇", "悦", "菲"}

	hospitals   = []string{"仁济医院", "华东医院", "协和医院", "中山医院", "同济医院", "湘雅医院", "齐鲁医院", "西京医院"}
	departments = []string{"乳腺外科", "肿瘤内科", "普外科", "放疗科", "乳腺肿瘤科"}
	wards       = []string{"3病区", "5病区", "7病区", "12病区", "乳腺病房"}
	doctors     = []string{"张伟", "王强", "刘洋", "陈静", "杨帆", "赵磊", "孙婷", "周杰"}
)

const (
	minFabricatedAge = 25
	maxFabricatedAge = 80
)

// FabricateIdentity 虚构一个女性身份：常见姓氏 + 女性名，年龄 25–80。
func FabricateIdentity(rng *rand.Rand) contract.Identity {
	return contract.Identity{
		Name:   surnames[rng.IntN(len(surnames))] + givenNames[rng.IntN(len(givenNames))],
		Age:    minFabricatedAge + rng.IntN(maxFabricatedAge-minFabricatedAge+1),
		Gender: contract.GenderFemale,
	}
}

// DeriveIdentity 从记录的 姓名/年龄 派生身份；缺失部分虚构。性别固定为女。
func DeriveIdentity(rec *contract.Record, rng *rand.Rand) contract.Identity {
	id := FabricateIdentity(rng)
	if name := rec.TextOf(contract.FieldName); name != "" {
		id.Name = name
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, rec.TextOf(contract.FieldAge))
	if age, err := strconv.Atoi(digits); err == nil && age > 0 {
		id.Age = age
	}
	return id
}

// 识别用姓氏集合，比虚构身份用的 surnames 更宽。
const surnameClass = `[王李张刘陈杨赵黄周吴徐孙胡朱高林何郭马罗梁宋郑谢韩唐冯董萧程曹袁邓许傅沈曾彭吕苏卢蒋蔡贾魏薛叶阎余潘杜戴夏钟汪田姜范姚谭廖邹熊陆郝孔崔毛邱秦江顾侯邵孟雷钱汤尹黎乔贺赖龚]`

const maskChars = `(?:\*+|某+|[Xx]{2,})`

var (
	labelNameRe    = regexp.MustCompile(`姓名([：: ]*)(\p{Han}*)`)
	labelAgeRe     = regexp.MustCompile(`年龄([：: ]*)(\d+)`)
	nameSlashAgeRe = regexp.MustCompile(`(` + surnameClass + `\p{Han}{1,2})\s*/\s*(\d{2,3})`)
	nameSepAgeRe   = regexp.MustCompile(`(` + surnameClass + `\p{Han}{1,2})[，,、\s]*(\d{2,3})岁`)
	nameRowRe      = regexp.MustCompile(`(` + surnameClass + `\p{Han}{1,2})[，,、|｜\s]+(\d{2,3})[，,、|｜\s]+[女男]`)
	patientAgeRe   = regexp.MustCompile(`(患者|女性|女)([，,、\s]*)(\d{2,3})岁`)
	digitsRe       = regexp.MustCompile(`\d+`)
	cellSepRe      = regexp.MustCompile(`[\s|｜,，]+`)

	maskedLabelRe  = regexp.MustCompile(`(医院名称|医院|科室|病房|主治医生|医生|医师)([：: ]*)(?:\*+|某{2,}|[Xx]{2,})`)
	maskedSuffixRe = regexp.MustCompile(surnameClass + `?` + maskChars + `(医院|科室|病房|医生|医师)`)
	maskedNameRe   = regexp.MustCompile(surnameClass + `(?:\*+|某{1,2}|[Xx]{2})`)
)

// 姓名后的汉字串遇到这些词即视为姓名结束。
var nameStops = []string{"性别", "年龄", "龄", "女", "男", "科室", "住院", "床", "病", "患者", "入院", "门诊", "联系", "出生", "民族", "职业", "婚", "诊断", "日期", "编号", "序号", "医", "主治", "危", "险"}

// 表格表头中可出现的字段名。
var tableLabels = map[string]bool{
	"姓名": true, "年龄": true, "性别": true, "科室": true, "病房": true, "病房号": true, "病区": true,
	"床号": true, "床位": true, "住院号": true, "门诊号": true, "病案号": true, "入院日期": true,
	"出院日期": true, "日期": true, "医院": true, "主治医生": true, "医生": true, "诊断": true,
	"编号": true, "序号": true, "ID": true,
}

const maxNameRunes = 3

// splitName 把标签后的汉字串切成 (姓名, 剩余)。
func splitName(run, want string) (string, string) {
	if want != "" && strings.HasPrefix(run, want) {
		return want, run[len(want):]
	}
	cut := len(run)
	for _, stop := range nameStops {
		if i := strings.Index(run, stop); i >= 0 && i < cut {
			cut = i
		}
	}
	if rs := []rune(run[:cut]); len(rs) > maxNameRunes {
		cut = len(string(rs[:maxNameRunes]))
	}
	return run[:cut], run[cut:]
}

func allHan(s string) bool {
	for _, r := range s {
		if !unicode.Is(unicode.Han, r) {
			return false
		}
	}
	return s != ""
}

// Foreign: 文本中与身份不一致的姓名与年龄。
type Foreign struct {
	Names []string
	Ages  []string
}

// Merge 合并两组结果，保持排序规则。
func (f Foreign) Merge(o Foreign) Foreign {
	names := map[string]bool{}
	ages := map[string]bool{}
	for _, xs := range [][]string{f.Names, o.Names} {
		for _, n := range xs {
			names[n] = true
		}
	}
	for _, xs := range [][]string{f.Ages, o.Ages} {
		for _, a := range xs {
			ages[a] = true
		}
	}
	return Foreign{Names: sortedKeys(names, true), Ages: sortedKeys(ages, false)}
}

// ExtractForeign 从文本中找出与 id 不一致的患者姓名与年龄：
// 姓名/年龄 标签、姓名+年龄 组合（含“张三，45岁”与表格行）以及 表头行+取值行。
func ExtractForeign(text string, id contract.Identity) Foreign {
	names := map[string]bool{}
	ages := map[string]bool{}
	addName := func(run string) {
		n, _ := splitName(run, id.Name)
		if len([]rune(n)) >= 2 && allHan(n) && n != id.Name && !strings.Contains(id.Name, n) {
			names[n] = true
		}
	}
	addAge := func(a string) {
		a = strings.TrimSuffix(a, "岁")
		if len(a) < 2 || len(a) > 3 {
			return
		}
		if v, err := strconv.Atoi(a); err == nil && v != id.Age && v > 0 {
			ages[a] = true
		}
	}
	for _, m := range labelNameRe.FindAllStringSubmatch(text, -1) {
		addName(m[2])
	}
	for _, re := range []*regexp.Regexp{nameSlashAgeRe, nameSepAgeRe, nameRowRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			addName(m[1])
			addAge(m[2])
		}
	}
	for _, m := range labelAgeRe.FindAllStringSubmatch(text, -1) {
		addAge(m[2])
	}
	for _, m := range patientAgeRe.FindAllStringSubmatch(text, -1) {
		addAge(m[3])
	}
	tableValues(text, func(label, value string) {
		switch label {
		case "姓名":
			addName(value)
		case "年龄":
			addAge(value)
		}
	})
	return Foreign{Names: sortedKeys(names, true), Ages: sortedKeys(ages, false)}
}

// tableValues 识别“表头行 + 取值行”：连续 k 个表头字段之后的 k 个单元格按列对应。
// 换行被折叠成空格时同样适用。
func tableValues(text string, visit func(label, value string)) {
	var cells []string
	for _, c := range cellSepRe.Split(text, -1) {
		if c != "" {
			cells = append(cells, c)
		}
	}
	for i := 0; i < len(cells); {
		j := i
		for j < len(cells) && tableLabels[cells[j]] {
			j++
		}
		n := j - i
		if n >= 2 && j+n <= len(cells) {
			for k := 0; k < n; k++ {
				visit(cells[i+k], cells[j+k])
			}
			i = j + n
			continue
		}
		i = max(j, i+1)
	}
}

func sortedKeys(m map[string]bool, longestFirst bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if longestFirst && len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// pick 按身份确定性地从候选中选一个具体值。
func pick(id contract.Identity, kind string, xs []string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id.Name + "|" + id.AgeText() + "|" + kind))
	return xs[h.Sum32()%uint32(len(xs))]
}

func concrete(id contract.Identity, label string) string {
	switch label {
	case "医院", "医院名称":
		return pick(id, "hospital", hospitals)
	case "科室":
		return pick(id, "department", departments)
	case "病房":
		return pick(id, "ward", wards)
	default:
		return pick(id, "doctor", doctors)
	}
}

// Enforce 执行第三阶段：把文本中所有姓名/性别/年龄改写为 id，遮掩的机构名与医生名改写为具体值，
// 遮掩的人名改写为 id 的姓名。foreign 之外，文本自身携带的他人身份也会被识别并替换。
// 幂等：Enforce(Enforce(t)) == Enforce(t)。
func Enforce(text string, id contract.Identity, foreign Foreign) string {
	if id.Name == "" {
		return text
	}
	age := id.AgeText()

	// 遮掩占位符
	text = maskedLabelRe.ReplaceAllStringFunc(text, func(m string) string {
		sm := maskedLabelRe.FindStringSubmatch(m)
		return sm[1] + sm[2] + concrete(id, sm[1])
	})
	text = maskedSuffixRe.ReplaceAllStringFunc(text, func(m string) string {
		label := maskedSuffixRe.FindStringSubmatch(m)[1]
		v := concrete(id, label)
		if label == "医生" || label == "医师" {
			v += label
		}
		return v
	})
	text = maskedNameRe.ReplaceAllLiteralString(text, id.Name)

	foreign = foreign.Merge(ExtractForeign(text, id))
	for _, n := range foreign.Names {
		text = strings.ReplaceAll(text, n, id.Name)
	}
	if len(foreign.Ages) > 0 {
		set := make(map[string]bool, len(foreign.Ages))
		for _, a := range foreign.Ages {
			set[a] = true
		}
		text = digitsRe.ReplaceAllStringFunc(text, func(d string) string {
			if set[d] {
				return age
			}
			return d
		})
	}

	text = genderLabelRe.ReplaceAllString(text, "性别："+contract.GenderFemale)
	text = strings.ReplaceAll(text, "男", contract.GenderFemale)

	text = labelNameRe.ReplaceAllStringFunc(text, func(m string) string {
		sm := labelNameRe.FindStringSubmatch(m)
		name, rest := splitName(sm[2], id.Name)
		// 表头中的“姓名 年龄 性别”不是取值位置
		if name == "" && !strings.ContainsAny(sm[1], "：:") {
			return m
		}
		return "姓名：" + id.Name + rest
	})
	text = labelAgeRe.ReplaceAllString(text, "年龄："+age)
	text = pinAfterName(text, id.Name, age)
	return patientAgeRe.ReplaceAllString(text, "${1}${2}"+age+"岁")
}

// pinAfterName 去掉身份姓名后残留的遮掩符，并把紧随其后的 2–3 位数字改为身份年龄。
func pinAfterName(text, name, age string) string {
	var b strings.Builder
	for {
		i := strings.Index(text, name)
		if i < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:i+len(name)])
		rest := strings.TrimLeft(text[i+len(name):], "*某")
		sep := len(rest) - len(strings.TrimLeft(rest, "/，,、 \t\n\r\f"))
		end := sep
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if n := end - sep; n >= 2 && n <= 3 {
			b.WriteString(rest[:sep])
			b.WriteString(age)
			rest = rest[end:]
		}
		text = rest
	}
}
