package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"path"
	"strings"

	"github.com/google/uuid"

	"bcaugment/internal/combine"
	"bcaugment/pkg/contract"
)

// Case: 一条合成病例的全部产物（case_NNN.json）。
type Case struct {
	ID         string            `json:"case_id"`
	Name       string            `json:"name"`
	Mode       combine.Mode      `json:"mode,omitempty"`
	Segments   []string          `json:"segments,omitempty"`
	Identity   contract.Identity `json:"identity"`
	Structured *contract.Record  `json:"structured,omitempty"`
	Compiled   json.RawMessage   `json:"compiled,omitempty"`
	Text       string            `json:"text"`
	Degraded   bool              `json:"degraded,omitempty"`
	NoisyText  string            `json:"noisy_text,omitempty"`
	// NoiseBlocks: 保留下来的内容噪声块类型（按位置顺序）。
	NoiseBlocks []string `json:"noise_blocks,omitempty"`
}

const (
	poolDir      = "pools"
	poolSuffix   = "_pool.json"
	allCasesName = "all_cases.json"
	noisySuffix  = "_noisy.txt"
	caseStream   = 1 << 32
)

func poolID(segment string) contract.ArtifactID {
	return contract.ArtifactID(poolDir + "/" + segment + poolSuffix)
}

// segmentOf 由工件名还原段落名；不是段落池文件时返回 false。
func segmentOf(id contract.ArtifactID) (string, bool) {
	return strings.CutSuffix(path.Base(string(id)), poolSuffix)
}

// CaseRNG 由种子与病例序号派生独立随机源，与段落池的随机流互不重叠。
func CaseRNG(seed uint64, index int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, caseStream|uint64(index)))
}

// nameRNG 为离线子命令中按文件名处理的病例派生随机源。
func nameRNG(seed uint64, name string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return rand.New(rand.NewPCG(seed, h.Sum64()))
}

// caseUUID: 同一种子与名称得到同一 ID。
func caseUUID(seed uint64, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "bcaugment/%d/%s", seed, name)).String()
}

// encodeJSON: 两空格缩进，不转义 HTML 字符（"<1mm" 原样保留）。
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Pipeline) writeJSON(ctx context.Context, id contract.ArtifactID, v any) error {
	b, err := encodeJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	return p.write(ctx, id, b)
}

func (p *Pipeline) write(ctx context.Context, id contract.ArtifactID, b []byte) error {
	if err := p.comp.Writer.Write(ctx, id, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}
	return nil
}

// writeCase 写出 case_NNN.json、case_NNN.txt 与（若有）case_NNN_noisy.txt。
func (p *Pipeline) writeCase(ctx context.Context, c *Case) error {
	if err := p.writeJSON(ctx, contract.ArtifactID(c.Name+".json"), c); err != nil {
		return err
	}
	if err := p.write(ctx, contract.ArtifactID(c.Name+".txt"), []byte(c.Text)); err != nil {
		return err
	}
	if c.NoisyText == "" {
		return nil
	}
	return p.write(ctx, contract.ArtifactID(c.Name+noisySuffix), []byte(c.NoisyText))
}
