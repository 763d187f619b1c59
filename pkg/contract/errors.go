package contract

import "errors"

// 最小错误分类（用于上层策略判定与诊断码映射）。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")

	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")

	// ErrUnknownField: 记录中出现未登记的字段名。
	ErrUnknownField = errors.New("unknown field")
	// ErrEmptyRecord: 组合后没有任何字段（全部段落池缺失或为空）。
	ErrEmptyRecord = errors.New("empty record")
	// ErrIncomplete: 噪声注入未完成身份一致化即被中断，文本不可作为成品。
	ErrIncomplete = errors.New("noise injection incomplete")
)
