package noise

import (
	"math/rand/v2"
	"regexp"
	"strings"
	"unicode"
)

// OCRConfig: 第二阶段各步骤的触发概率。零值关闭全部随机步骤（换行合并除外）。
type OCRConfig struct {
	MergeProb       float64 `json:"merge_prob" mapstructure:"merge_prob"`             // (a) 字段粘连
	ConfusableGate  float64 `json:"confusable_gate" mapstructure:"confusable_gate"`   // (c) 形近字符替换：触发
	ConfusableRate  float64 `json:"confusable_rate" mapstructure:"confusable_rate"`   // (c) 形近字符替换：逐条
	JitterGate      float64 `json:"jitter_gate" mapstructure:"jitter_gate"`           // (d) 排版错乱：触发
	JitterRate      float64 `json:"jitter_rate" mapstructure:"jitter_rate"`           // (d) 排版错乱：逐词
	TypoGate        float64 `json:"typo_gate" mapstructure:"typo_gate"`               // (e) 错别字：触发
	TypoRate        float64 `json:"typo_rate" mapstructure:"typo_rate"`               // (e) 错别字：逐条
	StripSpaceProb  float64 `json:"strip_space_prob" mapstructure:"strip_space_prob"` // (f) 去除全部空白
	SymbolProb      float64 `json:"symbol_prob" mapstructure:"symbol_prob"`           // (f) 乱码符号
	StrayProb       float64 `json:"stray_prob" mapstructure:"stray_prob"`             // (g) 杂散字符
	TruncateProb    float64 `json:"truncate_prob" mapstructure:"truncate_prob"`       // (h) 随机截断
	MinTruncateLen  int     `json:"min_truncate_len" mapstructure:"min_truncate_len"`
	WidthRate       float64 `json:"width_rate" mapstructure:"width_rate"` // (i) 全半角映射：逐字符
	FinalSymbolProb float64 `json:"final_symbol_prob" mapstructure:"final_symbol_prob"`
	PunctProb       float64 `json:"punct_prob" mapstructure:"punct_prob"`
	ColonGlueProb   float64 `json:"colon_glue_prob" mapstructure:"colon_glue_prob"`
	SpaceGlueProb   float64 `json:"space_glue_prob" mapstructure:"space_glue_prob"`
	LineBreakProb   float64 `json:"line_break_prob" mapstructure:"line_break_prob"`
	TableStripProb  float64 `json:"table_strip_prob" mapstructure:"table_strip_prob"`
}

// DefaultOCRConfig 返回默认概率。
func DefaultOCRConfig() OCRConfig {
	return OCRConfig{
		MergeProb:       0.3,
		ConfusableGate:  0.3,
		ConfusableRate:  0.05,
		JitterGate:      0.2,
		JitterRate:      0.05,
		TypoGate:        0.3,
		TypoRate:        0.1,
		StripSpaceProb:  0.5,
		SymbolProb:      0.5,
		StrayProb:       0.1,
		TruncateProb:    1,
		MinTruncateLen:  50,
		WidthRate:       0.1,
		FinalSymbolProb: 0.2,
		PunctProb:       0.2,
		ColonGlueProb:   0.4,
		SpaceGlueProb:   0.1,
		LineBreakProb:   0.2,
		TableStripProb:  0.2,
	}
}

type substitution struct {
	from string
	to   []string
}

// 数字/字母形近表
var confusables = []substitution{
	{"0", []string{"O", "o", "D"}}, {"1", []string{"l", "I", "i"}}, {"2", []string{"Z", "z"}},
	{"3", []string{"8", "B"}}, {"4", []string{"A", "a"}}, {"5", []string{"S", "s"}},
	{"6", []string{"G", "g"}}, {"7", []string{"T", "t"}}, {"8", []string{"B", "b"}},
	{"9", []string{"g", "q"}}, {"O", []string{"0", "o"}}, {"l", []string{"1", "I"}},
	{"I", []string{"1", "l"}}, {"S", []string{"5", "s"}}, {"Z", []string{"2", "z"}},
	{"G", []string{"6", "g"}}, {"B", []string{"8", "b"}}, {"T", []string{"7", "t"}},
}

// 常见同音/形近错别字
var typos = []substitution{
	{"的", []string{"得", "地"}}, {"是", []string{"事", "时"}}, {"有", []string{"又", "右"}},
	{"在", []string{"再", "载"}}, {"和", []string{"合", "河"}}, {"与", []string{"于", "雨"}},
	{"或", []string{"和", "活"}}, {"及", []string{"即", "级"}}, {"等", []string{"等", "邓"}},
	{"为", []string{"位", "未"}},
}

var (
	garbleSymbols = []rune("·•●◆★☆※→←—–…~!?#$%&*@‰¤¢§¿¡™©®µΩΞΨ∑∏∫√∝∞≡≠≤≥⊕⊙⊥⊿⊗∷∵∴∠∟∩∪∈∽≌≒≦≧≮≯")
	finalSymbols  = []rune("·•●◆★☆※→←—–…~!?#$%&*@")
	strayPieces   = []string{" ", "  ", "\t", "|", "-", "_"}
	mergePunct    = "，。；：！？、"
	colonSpaceRe  = regexp.MustCompile(`([：:])\s+`)
)

var widthMap = map[rune][]string{
	'A': {"Ａ", "Λ", "4"}, 'B': {"Ｂ", "ß"}, 'C': {"Ｃ", "匚"},
	'1': {"l", "I", "１"}, '0': {"O", "０", "●"}, 'O': {"0", "〇", "Ｏ"},
	'a': {"@", "ａ"}, 'e': {"€", "ｅ"}, 'i': {"！", "ｉ"}, ':': {"："}, ',': {"，"}, '.': {"。"},
	'-': {"–", "—", "－"}, ' ': {"　", ""}, 'n': {"η", "ń"},
}

var punctMix = []substitution{
	{",", []string{"，", ",", "、"}}, {".", []string{"。", ".", "·"}},
	{":", []string{"：", ":"}}, {";", []string{"；", ";"}},
}

func pickString(rng *rand.Rand, xs []string) string { return xs[rng.IntN(len(xs))] }

// OCR 执行第二阶段 (a)–(i)。
func OCR(text string, cfg OCRConfig, rng *rand.Rand) string {
	// (a) 字段粘连：删除前 1–3 个标点与前 1–2 段空白
	if rng.Float64() < cfg.MergeProb {
		text = dropFirst(text, func(r rune) bool { return strings.ContainsRune(mergePunct, r) }, 1+rng.IntN(3))
		text = dropSpaceRuns(text, 1+rng.IntN(2))
	}
	// (b) 换行合并
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	// (c) 形近字符
	if rng.Float64() < cfg.ConfusableGate {
		text = substituteFirst(text, confusables, cfg.ConfusableRate, rng)
	}
	// (d) 排版错乱
	if rng.Float64() < cfg.JitterGate {
		words := strings.Fields(text)
		for i := range words {
			if rng.Float64() < cfg.JitterRate {
				words[i] += strings.Repeat(" ", 1+rng.IntN(3))
			}
		}
		text = strings.Join(words, " ")
	}
	// (e) 错别字
	if rng.Float64() < cfg.TypoGate {
		text = substituteFirst(text, typos, cfg.TypoRate, rng)
	}
	// (f) 去空白与乱码符号
	if rng.Float64() < cfg.StripSpaceProb {
		text = strings.Join(strings.Fields(text), "")
	}
	if rng.Float64() < cfg.SymbolProb {
		for n := 2 + rng.IntN(7); n > 0; n-- {
			text = insertAt(text, string(garbleSymbols[rng.IntN(len(garbleSymbols))]), rng)
		}
	}
	// (g) 杂散字符
	if rng.Float64() < cfg.StrayProb && runeLen(text) > 10 {
		text = insertAt(text, pickString(rng, strayPieces), rng)
	}
	// (h) 随机截断
	if rng.Float64() < cfg.TruncateProb {
		text = Truncate(text, cfg.MinTruncateLen, rng)
	}
	// (i) 收尾字符噪声
	return finalPass(text, cfg, rng)
}

// Truncate 对不短于 minLen 字的文本等概率执行：去头、去尾、两端都去、不截断；
// 截断比例 10%–30%。短文本原样返回。
func Truncate(text string, minLen int, rng *rand.Rand) string {
	rs := []rune(text)
	if len(rs) < minLen || len(rs) == 0 {
		return text
	}
	mode := rng.IntN(4)
	if mode == 3 {
		return text
	}
	n := int(float64(len(rs)) * (0.1 + 0.2*rng.Float64()))
	switch mode {
	case 0:
		return string(rs[n:])
	case 1:
		return string(rs[:len(rs)-n])
	default:
		if 2*n >= len(rs) {
			return ""
		}
		return string(rs[n : len(rs)-n])
	}
}

func finalPass(text string, cfg OCRConfig, rng *rand.Rand) string {
	if cfg.WidthRate > 0 {
		var b strings.Builder
		for _, r := range text {
			if alts, ok := widthMap[r]; ok && rng.Float64() < cfg.WidthRate {
				b.WriteString(pickString(rng, alts))
				continue
			}
			b.WriteRune(r)
		}
		text = b.String()
	}
	if rng.Float64() < cfg.FinalSymbolProb {
		text = insertAt(text, string(finalSymbols[rng.IntN(len(finalSymbols))]), rng)
	}
	for _, p := range punctMix {
		if rng.Float64() < cfg.PunctProb {
			text = strings.ReplaceAll(text, p.from, pickString(rng, p.to))
		}
	}
	// 冒号后粘连
	if rng.Float64() < cfg.ColonGlueProb {
		text = colonSpaceRe.ReplaceAllString(text, "$1")
	}
	if rng.Float64() < cfg.SpaceGlueProb {
		text = dropSpaceRuns(text, 1)
	}
	// 行内断行
	if rng.Float64() < cfg.LineBreakProb {
		if rs := []rune(text); len(rs) > 20 {
			pos := 10 + rng.IntN(len(rs)-14)
			text = string(rs[:pos]) + "\n" + string(rs[pos:])
		}
	}
	// 表格分隔符丢失
	if rng.Float64() < cfg.TableStripProb {
		text = strings.NewReplacer("|", "", "\t", "").Replace(text)
	}
	return text
}

func runeLen(s string) int { return len([]rune(s)) }

func insertAt(text, piece string, rng *rand.Rand) string {
	rs := []rune(text)
	pos := rng.IntN(len(rs) + 1)
	return string(rs[:pos]) + piece + string(rs[pos:])
}

// substituteFirst 对表中每一项以概率 rate 替换其首次出现。
func substituteFirst(text string, table []substitution, rate float64, rng *rand.Rand) string {
	for _, s := range table {
		if rng.Float64() < rate && strings.Contains(text, s.from) {
			text = strings.Replace(text, s.from, pickString(rng, s.to), 1)
		}
	}
	return text
}

// dropFirst 删除前 n 个满足条件的字符。
func dropFirst(text string, match func(rune) bool, n int) string {
	var b strings.Builder
	for _, r := range text {
		if n > 0 && match(r) {
			n--
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dropSpaceRuns 删除前 n 段连续空白。
func dropSpaceRuns(text string, n int) string {
	var b strings.Builder
	inRun := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !inRun && n > 0 {
				inRun = true
				n--
				continue
			}
			if inRun {
				continue
			}
			b.WriteRune(r)
			continue
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}
