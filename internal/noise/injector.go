// Package noise 为干净的病历正文生成带噪声的变体：
// 第一阶段追加协作方生成的内容噪声块，第二阶段施加 OCR 风格的字符与格式错误，
// 第三阶段把全文的姓名/性别/年龄强制为同一身份。第三阶段完成前的文本不是有效成品。
package noise

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"bcaugment/internal/diag"
	"bcaugment/pkg/contract"
)

// Options: 注入参数（对应配置 noise.*）。
type Options struct {
	CatalogPath      string    `json:"catalog_path" mapstructure:"catalog_path"`
	MaxFront         int       `json:"max_front" mapstructure:"max_front"`
	MaxBack          int       `json:"max_back" mapstructure:"max_back"`
	BlockConcurrency int       `json:"block_concurrency" mapstructure:"block_concurrency"`
	OCR              OCRConfig `json:"ocr" mapstructure:"ocr"`
}

// DefaultOptions: 前后各 0–3 块，块并发 2，默认 OCR 概率。
func DefaultOptions() Options {
	return Options{MaxFront: 3, MaxBack: 3, BlockConcurrency: 2, OCR: DefaultOCRConfig()}
}

// Injector 可被多个协程共享；每次调用使用调用方提供的 rng。
type Injector struct {
	gen     contract.TextGenerator
	catalog *Catalog
	opts    Options
	logger  zerolog.Logger
	metrics *diag.Metrics
}

// New 构造注入器。catalog 为 nil 时使用内置目录；metrics 可为 nil。
func New(gen contract.TextGenerator, catalog *Catalog, opts Options, logger zerolog.Logger, metrics *diag.Metrics) (*Injector, error) {
	if gen == nil {
		return nil, fmt.Errorf("noise: %w: nil generator", contract.ErrInvalidInput)
	}
	if opts.MaxFront < 0 || opts.MaxBack < 0 {
		return nil, fmt.Errorf("noise: %w: negative block count", contract.ErrInvalidInput)
	}
	if opts.BlockConcurrency <= 0 {
		opts.BlockConcurrency = 1
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Injector{
		gen:     gen,
		catalog: catalog,
		opts:    opts,
		logger:  logger.With().Str("comp", "noise").Logger(),
		metrics: metrics,
	}, nil
}

// Result: 一次注入的产物。Clean 为规范化后的原文，Blocks 为保留下来的协作方噪声块。
type Result struct {
	Text          string
	Clean         string
	Blocks        []Block
	SpaceRemovals int
}

// Inject 依次执行三个阶段。ctx 在第三阶段完成前被取消时返回 ErrIncomplete，
// 此时不返回任何文本。
func (in *Injector) Inject(ctx context.Context, note string, id contract.Identity, rng *rand.Rand) (Result, error) {
	if !id.Valid() {
		return Result{}, fmt.Errorf("noise: %w: identity %+v", contract.ErrInvalidInput, id)
	}
	clean, text, blocks, removals, err := in.content(ctx, note, id, rng)
	if err != nil {
		return Result{}, fmt.Errorf("noise: %w: %w", contract.ErrIncomplete, err)
	}
	// 块文本在 OCR 前识别，换行与分隔符尚完整
	foreign := ExtractForeign(clean, id)
	for _, b := range blocks {
		foreign = foreign.Merge(ExtractForeign(b.Text, id))
	}
	text = OCR(text, in.opts.OCR, rng)
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("noise: %w: %w", contract.ErrIncomplete, err)
	}
	text = Enforce(text, id, foreign)
	in.logger.Debug().Int("blocks", len(blocks)).Int("space_removals", removals).
		Int("foreign_names", len(foreign.Names)).Msg("noise_injected")
	return Result{Text: text, Clean: clean, Blocks: blocks, SpaceRemovals: removals}, nil
}
