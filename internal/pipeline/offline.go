package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"bcaugment/internal/diag"
	"bcaugment/internal/noise"
	"bcaugment/internal/schema"
	"bcaugment/pkg/contract"
)

// source: 离线子命令读入的一条待处理病例。fromJSON 表示需要回写 case_NNN.json。
// dir 为输入文件相对 roots 公共目录的子目录，产物保持同样的相对位置。
type source struct {
	c        *Case
	dir      string
	fromJSON bool
}

func (s source) key() string { return path.Join(s.dir, s.c.Name) }

// commonRoot 返回 roots 的最近公共目录；文件 root 取其所在目录。无法确定时返回空串。
func commonRoot(roots []string) string {
	var common []string
	for i, r := range roots {
		if r == "-" {
			return ""
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			return ""
		}
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			abs = filepath.Dir(abs)
		}
		parts := strings.Split(filepath.ToSlash(abs), "/")
		if i == 0 {
			common = parts
			continue
		}
		n := 0
		for n < len(common) && n < len(parts) && common[n] == parts[n] {
			n++
		}
		common = common[:n]
	}
	if len(common) == 1 && common[0] == "" {
		return "/"
	}
	return filepath.FromSlash(strings.Join(common, "/"))
}

// relDir 返回 id 所在目录相对 base 的路径（slash 形式）；位于 base 本身或之外时为空。
func relDir(base string, id contract.ArtifactID) string {
	if base == "" {
		return ""
	}
	abs, err := filepath.Abs(filepath.FromSlash(string(id)))
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(base, filepath.Dir(abs))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(rel)
}

// collect 顺序读取 roots 下的 .json 病例与 .txt 病历；段落池、批量文件与已加噪文本被跳过。
func (p *Pipeline) collect(ctx context.Context, roots []string) ([]source, error) {
	if p.comp.Reader == nil {
		return nil, fmt.Errorf("pipeline: %w: missing reader", contract.ErrInvalidInput)
	}
	var out []source
	base := commonRoot(roots)
	err := p.comp.Reader.Iterate(ctx, roots, func(id contract.ArtifactID, rc io.ReadCloser) error {
		defer rc.Close()
		name := path.Base(string(id))
		if _, isPool := segmentOf(id); isPool || name == allCasesName || strings.HasSuffix(name, noisySuffix) {
			return nil
		}
		ext := path.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		dir := relDir(base, id)
		switch ext {
		case ".json":
			var c Case
			if err := json.NewDecoder(rc).Decode(&c); err != nil {
				p.logger.Warn().Str("file", string(id)).Err(err).Msg("case_decode_failed")
				return nil
			}
			if c.Text == "" {
				return nil
			}
			if c.Name == "" {
				c.Name = stem
			}
			out = append(out, source{c: &c, dir: dir, fromJSON: true})
		case ".txt", "":
			b, err := io.ReadAll(rc)
			if err != nil {
				return fmt.Errorf("read %s: %w", id, err)
			}
			if strings.TrimSpace(string(b)) == "" {
				return nil
			}
			out = append(out, source{c: &Case{Name: stem, Text: string(b)}, dir: dir})
		}
		return nil
	})
	return out, err
}

// NoiseFiles 对已有病例或病历文本单独执行噪声注入，写出 <name>_noisy.txt；
// 输入为病例 JSON 时同时回写加噪结果。纯文本病历没有身份信息，使用虚构身份。
func (p *Pipeline) NoiseFiles(ctx context.Context, roots []string) (Summary, error) {
	t0 := time.Now()
	srcs, err := p.collect(ctx, roots)
	if err != nil {
		return Summary{}, err
	}
	p.term.StageStart("noise", len(srcs))
	tm := diag.Start(p.logger, "noise", "inject", p.metrics)
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.set.Concurrency)
	for _, s := range srcs {
		g.Go(func() error {
			key := s.key()
			rng := nameRNG(p.set.Seed, key)
			if !s.c.Identity.Valid() {
				s.c.Identity = noise.DeriveIdentity(&contract.Record{}, rng)
			}
			if err := p.addNoise(gctx, s.c, rng); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if err := p.write(gctx, contract.ArtifactID(key+noisySuffix), []byte(s.c.NoisyText)); err != nil {
				return err
			}
			if s.fromJSON {
				if err := p.writeJSON(gctx, contract.ArtifactID(key+".json"), s.c); err != nil {
					return err
				}
			}
			p.metrics.Record("ok")
			p.term.Progress(int(done.Add(1)), 0)
			return nil
		})
	}
	err = g.Wait()
	sum := Summary{Total: len(srcs), OK: int(done.Load()), Duration: time.Since(t0)}
	if err != nil {
		tm.Fail("inject failed", err)
		p.term.StageFinish(false, sum.OK, sum.Duration)
		return sum, err
	}
	tm.Finish("inject", int64(sum.OK))
	p.term.StageFinish(true, sum.OK, sum.Duration)
	return sum, nil
}

// CaseReport: 单条病例的校验结果。
type CaseReport struct {
	Name       string             `json:"name"`
	Violations []schema.Violation `json:"violations,omitempty"`
	// ForeignNames/ForeignAges: 文本中残留的、与身份不一致的姓名与年龄。
	ForeignNames []string `json:"foreign_names,omitempty"`
	ForeignAges  []string `json:"foreign_ages,omitempty"`
}

func (r CaseReport) OK() bool {
	return len(r.Violations) == 0 && len(r.ForeignNames) == 0 && len(r.ForeignAges) == 0
}

// Report: validate 子命令的输出。
type Report struct {
	Cases    int             `json:"cases"`
	Failed   int             `json:"failed"`
	Problems []CaseReport    `json:"problems,omitempty"`
	Coverage schema.Coverage `json:"coverage"`
}

// Validate 检查已生成病例：结构化字段按规则校验，文本（优先加噪文本）中的身份须与病例身份一致，
// 并统计字段覆盖率。结果按病例名排序。
func (p *Pipeline) Validate(ctx context.Context, roots []string) (Report, error) {
	srcs, err := p.collect(ctx, roots)
	if err != nil {
		return Report{}, err
	}
	var rep Report
	var recs []*contract.Record
	for _, s := range srcs {
		if !s.fromJSON {
			continue
		}
		c := s.c
		rep.Cases++
		cr := CaseReport{Name: s.key()}
		if c.Structured != nil {
			recs = append(recs, c.Structured)
			cr.Violations = p.comp.Schema.ValidateRecord(c.Structured)
		}
		text := c.NoisyText
		if text == "" {
			text = c.Text
		}
		if c.Identity.Valid() {
			f := noise.ExtractForeign(noise.Clean(text), c.Identity)
			cr.ForeignNames, cr.ForeignAges = f.Names, f.Ages
		}
		if !cr.OK() {
			rep.Failed++
			rep.Problems = append(rep.Problems, cr)
		}
	}
	sort.Slice(rep.Problems, func(i, j int) bool { return rep.Problems[i].Name < rep.Problems[j].Name })
	rep.Coverage = p.comp.Schema.Measure(recs)
	p.logger.Info().Int("cases", rep.Cases).Int("failed", rep.Failed).
		Int("sparse_fields", len(rep.Coverage.Sparse)).Msg("validate_done")
	return rep, nil
}
