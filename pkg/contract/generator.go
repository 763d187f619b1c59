package contract

import "context"

// TextGenerator: 外部文本生成协作方。
// 单次调用、同步返回；空串表示“无内容”，调用方按降级处理而非致命错误。
// 实现应尊重 ctx 取消并及时释放资源。
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc 将普通函数适配为 TextGenerator（测试桩常用）。
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// UpstreamError 用于承载 HTTP 上游错误的最小诊断信息。
// 实现方应提供可选的状态码与简短消息，便于 pipeline 记录结构化日志字段。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}
