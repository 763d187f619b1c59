package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bcaugment/internal/diag"
	"bcaugment/internal/prompt"
	"bcaugment/internal/rate"
	"bcaugment/pkg/contract"
)

// Guarded 在文本生成协作方外包一层：限流闸门、有限重试、指标与结构化日志。
// 对调用方仍表现为 contract.TextGenerator。
type Guarded struct {
	next       contract.TextGenerator
	gate       rate.Gate
	key        rate.Key
	est        prompt.Estimator
	maxOutput  int
	limit      int
	maxRetries int
	backoff    time.Duration
	logger     zerolog.Logger
	metrics    *diag.Metrics
}

var _ contract.TextGenerator = (*Guarded)(nil)

// NewGuarded 构造包装器；gate 为 nil 时不限流。
func NewGuarded(next contract.TextGenerator, set Settings, logger zerolog.Logger, m *diag.Metrics) *Guarded {
	backoff := set.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Guarded{
		next:       next,
		gate:       set.Gate,
		key:        set.GateKey,
		est:        prompt.MakeEstimator(set.BytesPerToken),
		maxOutput:  set.MaxTokens,
		limit:      set.MaxTokensPerCall,
		maxRetries: max(set.MaxRetries, 0),
		backoff:    backoff,
		logger:     logger.With().Str("comp", "generator").Logger(),
		metrics:    m,
	}
}

// shouldRetry: 限流/网络类错误与无效响应可重试；取消、预算超限与输入非法不重试。
func shouldRetry(err error) bool {
	if errors.Is(err, contract.ErrBudgetExceeded) {
		return false
	}
	code := diag.Classify(err)
	return code.Retryable() || code == diag.CodeProtocol
}

func (g *Guarded) Generate(ctx context.Context, p string) (string, error) {
	tokens, _, err := prompt.Fit(g.est, p, g.maxOutput, g.limit)
	if err != nil {
		g.metrics.GeneratorCall(string(diag.CodeBudget))
		return "", err
	}
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, g.backoff<<(attempt-1)); err != nil {
				return "", err
			}
		}
		if g.gate != nil {
			if err := g.gate.Wait(ctx, rate.Ask{Key: g.key, Tokens: tokens}); err != nil {
				g.metrics.GeneratorCall(string(diag.Classify(err)))
				return "", err
			}
		}
		out, err := g.next.Generate(ctx, p)
		if err == nil {
			g.metrics.GeneratorCall("ok")
			return out, nil
		}
		lastErr = err
		code := diag.Classify(err)
		g.metrics.GeneratorCall(string(code))
		ev := g.logger.Warn().Str("code", string(code)).Int("attempt", attempt+1).Int("tokens", tokens).Err(err)
		var ue contract.UpstreamError
		if errors.As(err, &ue) {
			ev = ev.Int("http_status", ue.UpstreamStatus())
			if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
				ev = ev.Str("upstream_msg", truncate(m, 200))
			}
		}
		ev.Msg("generate_failed")
		if !shouldRetry(err) {
			break
		}
	}
	return "", lastErr
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
