// Package render 将编译后的表达与剩余字段交给文本生成协作方，写成病历正文。
// 协作方失败或返回空时降级为短语拼接，不向上返回协作方错误。
package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"bcaugment/internal/diag"
	"bcaugment/internal/express"
	"bcaugment/pkg/contract"
)

// Options: 提示模板（二选一，均为空时使用内置默认模板）。
type Options struct {
	InlineTemplate string `json:"inline_template" mapstructure:"inline_template"`
	TemplatePath   string `json:"template_path" mapstructure:"template_path"`
}

// Fact: 一条“字段：值”事实。
type Fact struct {
	Name  string
	Value string
}

// Facts: 确定性的事实载荷。
type Facts struct {
	Identity    contract.Identity
	Expressions []string
	Fields      []Fact
}

// Note: 渲染结果。Degraded 表示使用了拼接降级。
type Note struct {
	Text     string
	Prompt   string
	Degraded bool
}

// Renderer: 构造期解析模板，运行期仅做渲染与一次协作方调用。
type Renderer struct {
	gen    contract.TextGenerator
	tpl    *template.Template
	logger zerolog.Logger
}

func New(gen contract.TextGenerator, opts *Options, logger zerolog.Logger) (*Renderer, error) {
	if gen == nil {
		return nil, fmt.Errorf("render: %w: nil generator", contract.ErrInvalidInput)
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	src := defaultTemplate
	if o.InlineTemplate != "" {
		src = o.InlineTemplate
	} else if o.TemplatePath != "" {
		b, err := os.ReadFile(o.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("render template read: %w", err)
		}
		src = string(b)
	}
	tpl, err := template.New("note").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("render template parse: %w", err)
	}
	return &Renderer{gen: gen, tpl: tpl, logger: logger.With().Str("comp", "render").Logger()}, nil
}

// BuildFacts 组装事实载荷：短语按编译顺序，剩余非空字段按记录顺序（姓名/年龄 由身份承载）。
func BuildFacts(c express.Compiled, id contract.Identity) Facts {
	f := Facts{Identity: id, Expressions: c.Texts()}
	for _, fid := range c.Fields.Fields() {
		if fid == contract.FieldName || fid == contract.FieldAge {
			continue
		}
		if v := c.Fields.TextOf(fid); v != "" {
			f.Fields = append(f.Fields, Fact{Name: fid.String(), Value: v})
		}
	}
	return f
}

// Prompt 渲染提示词。
func (r *Renderer) Prompt(f Facts) (string, error) {
	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, f); err != nil {
		return "", fmt.Errorf("render: %w: template execute: %v", contract.ErrInvalidInput, err)
	}
	return buf.String(), nil
}

// Fallback 降级正文：短语与“字段：值”以“，”拼接。
func Fallback(f Facts) string {
	parts := append([]string(nil), f.Expressions...)
	for _, fc := range f.Fields {
		parts = append(parts, fc.Name+"："+fc.Value)
	}
	return strings.Join(parts, "，")
}

// Clean 去除 Markdown 加粗标记与首尾空白。
func Clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "**", ""))
}

// Render 生成病历正文。仅在模板执行失败或 ctx 已取消时返回错误。
func (r *Renderer) Render(ctx context.Context, c express.Compiled, id contract.Identity) (Note, error) {
	facts := BuildFacts(c, id)
	prompt, err := r.Prompt(facts)
	if err != nil {
		return Note{}, err
	}
	text, gerr := r.gen.Generate(ctx, prompt)
	if cerr := ctx.Err(); cerr != nil {
		return Note{}, cerr
	}
	text = Clean(text)
	if gerr != nil || text == "" {
		ev := r.logger.Warn().Str("code", string(diag.Classify(gerr)))
		if gerr != nil {
			ev = ev.Err(gerr)
		}
		ev.Msg("render_degraded")
		return Note{Text: Fallback(facts), Prompt: prompt, Degraded: true}, nil
	}
	return Note{Text: text, Prompt: prompt}, nil
}

const defaultTemplate = `你是一名乳腺外科主治医师。请根据以下结构化信息撰写一段中文病历记录（现病史风格）。
要求：
1. 只使用给定事实，不得编造新的检查结果、日期或数值；
2. 以连贯的临床叙述呈现，可调整语序，可使用医生习惯的简写；
3. 患者信息固定为：姓名{{.Identity.Name}}，性别{{.Identity.Gender}}，年龄{{.Identity.Age}}岁；
4. 不要使用 Markdown、标题或列表，直接输出正文。

已整理表达：
{{range .Expressions}}- {{.}}
{{end}}{{if .Fields}}其他字段：
{{range .Fields}}- {{.Name}}：{{.Value}}
{{end}}{{end}}`
