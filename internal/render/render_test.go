package render

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bcaugment/internal/express"
	"bcaugment/pkg/contract"
)

func compiled(t *testing.T) express.Compiled {
	t.Helper()
	rec := &contract.Record{}
	rec.SetText(contract.FieldName, "李敏")
	rec.SetText(contract.FieldAge, "63")
	rec.SetText(contract.FieldMenopause, "是")
	rec.SetText(contract.FieldCTNM, "cT2N1M0")
	rec.SetText(contract.FieldPS, "1")
	rec.SetText(contract.FieldGenomicHighRisk, "")
	return express.Compile(rec, rand.New(rand.NewPCG(1, 2)))
}

var id = contract.Identity{Name: "李敏", Age: 63, Gender: contract.GenderFemale}

func TestBuildFacts(t *testing.T) {
	f := BuildFacts(compiled(t), id)
	assert.Equal(t, []string{"已绝经", "临床分期cT2N1M0"}, f.Expressions)
	assert.Equal(t, []Fact{{Name: "PS", Value: "1"}}, f.Fields, "姓名/年龄 与空字段不进入事实")
	assert.Equal(t, "已绝经，临床分期cT2N1M0，PS：1", Fallback(f))
}

// UT-RND-01: 提示词包含身份与短语，协作方输出去除加粗标记
func TestRenderPrompt(t *testing.T) {
	var got string
	gen := contract.GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		got = prompt
		return "  **现病史**：患者李敏，63岁。 ", nil
	})
	r, err := New(gen, nil, zerolog.Nop())
	require.NoError(t, err)
	note, err := r.Render(context.Background(), compiled(t), id)
	require.NoError(t, err)
	assert.False(t, note.Degraded)
	assert.Equal(t, "现病史：患者李敏，63岁。", note.Text)
	assert.Equal(t, got, note.Prompt)
	for _, s := range []string{"姓名李敏", "性别女", "年龄63岁", "- 已绝经", "- 临床分期cT2N1M0", "- PS：1"} {
		assert.Contains(t, got, s)
	}
}

// UT-RND-02: 协作方失败或返回空白时降级为拼接文本
func TestRenderDegraded(t *testing.T) {
	for name, gen := range map[string]contract.GeneratorFunc{
		"error": func(context.Context, string) (string, error) { return "", contract.ErrRateLimited },
		"blank": func(context.Context, string) (string, error) { return " ** ", nil },
	} {
		t.Run(name, func(t *testing.T) {
			r, err := New(gen, nil, zerolog.Nop())
			require.NoError(t, err)
			note, err := r.Render(context.Background(), compiled(t), id)
			require.NoError(t, err, "协作方错误不向上返回")
			assert.True(t, note.Degraded)
			assert.Equal(t, "已绝经，临床分期cT2N1M0，PS：1", note.Text)
		})
	}
}

func TestRenderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := contract.GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	r, err := New(gen, nil, zerolog.Nop())
	require.NoError(t, err)
	_, err = r.Render(ctx, compiled(t), id)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTemplateOverrides(t *testing.T) {
	echo := contract.GeneratorFunc(func(_ context.Context, p string) (string, error) { return p, nil })

	r, err := New(echo, &Options{InlineTemplate: "{{.Identity.Name}}|{{len .Expressions}}"}, zerolog.Nop())
	require.NoError(t, err)
	note, err := r.Render(context.Background(), compiled(t), id)
	require.NoError(t, err)
	assert.Equal(t, "李敏|2", note.Text)

	path := filepath.Join(t.TempDir(), "note.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("{{range .Fields}}{{.Name}}={{.Value}}{{end}}"), 0o644))
	r, err = New(echo, &Options{TemplatePath: path}, zerolog.Nop())
	require.NoError(t, err)
	note, err = r.Render(context.Background(), compiled(t), id)
	require.NoError(t, err)
	assert.Equal(t, "PS=1", note.Text)

	_, err = New(echo, &Options{InlineTemplate: "{{.Broken"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(echo, &Options{TemplatePath: filepath.Join(t.TempDir(), "missing")}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewRejectsNilGenerator(t *testing.T) {
	_, err := New(nil, nil, zerolog.Nop())
	assert.True(t, errors.Is(err, contract.ErrInvalidInput))
}
