// Package prompt 估算生成调用的 token 用量，供限流闸门申请额度。
package prompt

import (
	"fmt"

	"bcaugment/pkg/contract"
)

// Estimator: 文本 → 近似 token 数。
type Estimator func(s string) int

// DefaultBytesPerToken: 中文病历以 3 字节 UTF-8 为主，约一字一 token。
const DefaultBytesPerToken = 3

// MakeEstimator 返回近似估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// bytesPerToken<=0 时采用 DefaultBytesPerToken。
func MakeEstimator(bytesPerToken int) Estimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = DefaultBytesPerToken
	}
	return func(s string) int {
		return (len(s) + bpt - 1) / bpt
	}
}

// Fit 计算一次调用的申请额度（提示 + 预期输出）。
// limit>0 时输出预算被压缩到 limit 以内；提示本身已超出 limit 时返回 ErrBudgetExceeded。
// 返回 (申请总量, 输出预算)。
func Fit(est Estimator, prompt string, maxOutput, limit int) (int, int, error) {
	in := est(prompt)
	out := max(maxOutput, 0)
	if limit <= 0 {
		return in + out, out, nil
	}
	if in >= limit {
		return 0, 0, fmt.Errorf("prompt: %w: prompt=%d limit=%d", contract.ErrBudgetExceeded, in, limit)
	}
	out = min(out, limit-in)
	return in + out, out, nil
}
