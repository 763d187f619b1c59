// Package rate 为文本生成调用提供按 provider 分组的令牌桶闸门。
package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bcaugment/pkg/contract"
)

// Key: 限流分组键（client + api key 摘要）。
type Key string

// Limits: 每分组限额。0 表示该维度不启用。
type Limits struct {
	RPM              int `json:"rpm" mapstructure:"rpm"`
	TPM              int `json:"tpm" mapstructure:"tpm"`
	MaxTokensPerCall int `json:"max_tokens_per_call" mapstructure:"max_tokens_per_call"`
}

// Ask: 一次生成调用的放行申请。每次申请消耗 1 个请求额度。
type Ask struct {
	Key    Key
	Tokens int
}

// Gate: 并发安全的限流闸门。
type Gate interface {
	// Wait 阻塞直到额度可用或 ctx 取消；超出单次上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try 非阻塞尝试。
	Try(a Ask) bool
}

// Available: 某分组当前可用额度（向下取整，仅诊断）。
type Available struct {
	Requests int
	Tokens   int
}

// Bucketed 是 NewGate 的实现，额外暴露诊断快照。
type Bucketed struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[Key]*limiter
}

// NewGate 从静态配置构造闸门；clk 为空时使用 time.Now。未配置的分组不限额。
func NewGate(m map[Key]Limits, clk func() time.Time) *Bucketed {
	if clk == nil {
		clk = time.Now
	}
	g := &Bucketed{clk: clk, m: make(map[Key]*limiter, len(m))}
	now := clk()
	for k, lim := range m {
		g.m[k] = newLimiter(lim, now)
	}
	return g
}

var _ Gate = (*Bucketed)(nil)

type limiter struct {
	mu  sync.Mutex
	lim Limits
	req bucket
	tok bucket
}

func newLimiter(lim Limits, now time.Time) *limiter {
	return &limiter{lim: lim, req: newBucket(lim.RPM, now), tok: newBucket(lim.TPM, now)}
}

// bucket: 每分钟 cap 个单位，匀速回填。cap=0 表示关闭。
type bucket struct {
	cap   float64
	level float64
	last  time.Time
}

func newBucket(perMinute int, now time.Time) bucket {
	if perMinute <= 0 {
		return bucket{}
	}
	return bucket{cap: float64(perMinute), level: float64(perMinute), last: now}
}

func (b *bucket) off() bool { return b.cap == 0 }

func (b *bucket) refill(now time.Time) {
	// 时钟回拨视为无时间流逝
	if b.off() || !now.After(b.last) {
		return
	}
	b.level = min(b.cap, b.level+now.Sub(b.last).Seconds()*b.cap/60)
	b.last = now
}

// deficit 返回凑够 n 个单位还需等待的时长；0 表示可立即取用。
func (b *bucket) deficit(n int) time.Duration {
	if b.off() || n <= 0 || b.level >= float64(n) {
		return 0
	}
	return time.Duration((float64(n) - b.level) / (b.cap / 60) * float64(time.Second))
}

func (b *bucket) take(n int) {
	if b.off() || n <= 0 {
		return
	}
	b.level = max(0, b.level-float64(n))
}

func (g *Bucketed) lookup(k Key) *limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.m[k]
	if l == nil {
		l = newLimiter(Limits{}, g.clk())
		g.m[k] = l
	}
	return l
}

func (g *Bucketed) check(a Ask) (*limiter, error) {
	if a.Tokens < 0 {
		return nil, fmt.Errorf("rate: %w: negative tokens", contract.ErrInvalidInput)
	}
	l := g.lookup(a.Key)
	if l.lim.MaxTokensPerCall > 0 && a.Tokens > l.lim.MaxTokensPerCall {
		return nil, fmt.Errorf("rate: %w: tokens=%d > max_tokens_per_call=%d", contract.ErrInvalidInput, a.Tokens, l.lim.MaxTokensPerCall)
	}
	return l, nil
}

// reserve 尝试扣减；失败时返回所需等待时长。
func (g *Bucketed) reserve(l *limiter, tokens int) (bool, time.Duration) {
	now := g.clk()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.req.refill(now)
	l.tok.refill(now)
	wait := max(l.req.deficit(1), l.tok.deficit(tokens))
	if wait > 0 {
		return false, wait
	}
	l.req.take(1)
	l.tok.take(tokens)
	return true, 0
}

func (g *Bucketed) Try(a Ask) bool {
	l, err := g.check(a)
	if err != nil {
		return false
	}
	ok, _ := g.reserve(l, a.Tokens)
	return ok
}

func (g *Bucketed) Wait(ctx context.Context, a Ask) error {
	l, err := g.check(a)
	if err != nil {
		return err
	}
	const minSleep, maxSleep = 10 * time.Millisecond, 200 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, wait := g.reserve(l, a.Tokens)
		if ok {
			return nil
		}
		// 分片等待后重新计算，时钟与额度都可能已变化
		if err := sleepCtx(ctx, min(wait+minSleep, maxSleep)); err != nil {
			return err
		}
	}
}

// Snapshot 返回分组当前可用额度；关闭的维度为 0。
func (g *Bucketed) Snapshot(k Key) Available {
	l := g.lookup(k)
	now := g.clk()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.req.refill(now)
	l.tok.refill(now)
	return Available{Requests: int(l.req.level), Tokens: int(l.tok.level)}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
