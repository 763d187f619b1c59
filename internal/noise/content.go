package noise

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"bcaugment/internal/diag"
	"bcaugment/pkg/contract"
)

// 前置/后置噪声块使用的上下文长度（字）。
const contextRunes = 100

// 删除空格噪声的逐空格删除概率。
const spaceDropProb = 0.5

var (
	genderLabelRe = regexp.MustCompile(`性别[：: ]*[男女]`)
	spaceRunRe    = regexp.MustCompile(`\s+`)
)

// Clean 规范化正文：去除加粗标记，性别统一为女，合并为单行单空格。
func Clean(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = genderLabelRe.ReplaceAllString(text, "性别："+contract.GenderFemale)
	text = strings.ReplaceAll(text, "男", contract.GenderFemale)
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(text, " "))
}

// RemoveSpaces 以概率 p 删除每个 ASCII 空格，不插入任何字符。
func RemoveSpaces(text string, p float64, rng *rand.Rand) string {
	if !strings.Contains(text, " ") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == ' ' && rng.Float64() < p {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func head(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}

func tail(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[len(rs)-n:])
}

// Block: 一个噪声块。Front 表示前置。
type Block struct {
	Type  Type   `json:"type"`
	Text  string `json:"text"`
	Front bool   `json:"front"`
}

type slot struct {
	entry   Entry
	front   bool
	context string
}

// content 执行第一阶段：规范化正文，抽取前后噪声类型并生成噪声块。
// 全部随机抽取在调用方协程内完成；协作方调用并发执行，结果按抽取顺序拼接。
// 返回规范化正文、拼接结果、保留下来的噪声块与删除空格次数。
func (in *Injector) content(ctx context.Context, note string, id contract.Identity, rng *rand.Rand) (clean, joined string, blocks []Block, removals int, err error) {
	clean = Clean(note)
	body := clean
	headCtx, tailCtx := head(clean, contextRunes), tail(clean, contextRunes)

	nFront := rng.IntN(in.opts.MaxFront + 1)
	nBack := rng.IntN(in.opts.MaxBack + 1)
	var slots []slot
	for i := 0; i < nFront+nBack; i++ {
		t, ok := in.catalog.Pick(rng)
		if !ok {
			break
		}
		if t.Local() {
			body = RemoveSpaces(body, spaceDropProb, rng)
			removals++
			in.metrics.NoiseBlock(string(t), "ok")
			continue
		}
		e, _ := in.catalog.Lookup(t)
		s := slot{entry: e, front: i < nFront, context: tailCtx}
		if s.front {
			s.context = headCtx
		}
		slots = append(slots, s)
	}

	texts := make([]string, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.BlockConcurrency)
	for i, s := range slots {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, gerr := in.gen.Generate(gctx, Prompt(s.entry, s.context, id))
			out = strings.TrimSpace(strings.ReplaceAll(out, "**", ""))
			if gerr != nil || out == "" {
				// 失败的块置空丢弃，不影响其余块
				in.logger.Warn().Str("type", string(s.entry.Type)).
					Str("code", string(diag.Classify(gerr))).Err(gerr).Msg("noise_block_dropped")
				in.metrics.NoiseBlock(string(s.entry.Type), "dropped")
				return nil
			}
			in.metrics.NoiseBlock(string(s.entry.Type), "ok")
			texts[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return clean, "", nil, removals, err
	}
	if err := ctx.Err(); err != nil {
		return clean, "", nil, removals, err
	}

	var front, back []string
	for i, s := range slots {
		if texts[i] == "" {
			continue
		}
		blocks = append(blocks, Block{Type: s.entry.Type, Text: texts[i], Front: s.front})
		if s.front {
			front = append(front, texts[i])
		} else {
			back = append(back, texts[i])
		}
	}
	parts := append(front, body)
	parts = append(parts, back...)
	return clean, strings.Join(parts, " "), blocks, removals, nil
}
