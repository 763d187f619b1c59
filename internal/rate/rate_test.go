package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bcaugment/pkg/contract"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// UT-RTE-01: 超过 RPM/TPM 时 Try 拒绝，回填后恢复。
func TestGateTryLimit(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	g := NewGate(map[Key]Limits{"k": {RPM: 1, TPM: 10, MaxTokensPerCall: 5}}, clk.Now)
	assert.True(t, g.Try(Ask{Key: "k", Tokens: 3}), "首次应通过")
	assert.False(t, g.Try(Ask{Key: "k", Tokens: 3}), "应因 RPM 拒绝")

	clk.Advance(time.Minute)
	assert.True(t, g.Try(Ask{Key: "k", Tokens: 3}), "回填一分钟后应通过")
	assert.Equal(t, Available{Requests: 0, Tokens: 7}, g.Snapshot("k"))
}

// UT-RTE-02: 取消上下文。
func TestGateWaitCancel(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	g := NewGate(map[Key]Limits{"k": {RPM: 1}}, clk.Now)
	require.NoError(t, g.Wait(context.Background(), Ask{Key: "k"}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, g.Wait(ctx, Ask{Key: "k"}), context.Canceled)
}

func TestGateWaitResumes(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	g := NewGate(map[Key]Limits{"k": {RPM: 1}}, clk.Now)
	require.True(t, g.Try(Ask{Key: "k"}))
	go func() {
		time.Sleep(20 * time.Millisecond)
		clk.Advance(2 * time.Minute)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, g.Wait(ctx, Ask{Key: "k"}))
}

func TestGateLimitsValidation(t *testing.T) {
	g := NewGate(map[Key]Limits{"k": {MaxTokensPerCall: 5}}, nil)
	assert.ErrorIs(t, g.Wait(context.Background(), Ask{Key: "k", Tokens: 6}), contract.ErrInvalidInput)
	assert.ErrorIs(t, g.Wait(context.Background(), Ask{Key: "k", Tokens: -1}), contract.ErrInvalidInput)
	assert.False(t, g.Try(Ask{Key: "k", Tokens: 6}))

	for i := 0; i < 100; i++ {
		assert.True(t, g.Try(Ask{Key: "other", Tokens: 1000}), "未配置的分组不限额")
	}
}

func TestDeriveKey(t *testing.T) {
	t.Setenv("TEST_KEY", "abc")
	k, err := DeriveKey("openai", map[string]any{"api_key_env": "TEST_KEY"})
	require.NoError(t, err)
	direct, err := DeriveKey("openai", map[string]any{"api_key": "abc"})
	require.NoError(t, err)
	assert.Equal(t, k, direct, "相同凭据得到相同分组")
	assert.Contains(t, string(k), "openai:")

	_, err = DeriveKey("openai", map[string]any{})
	assert.Error(t, err, "缺少 key 应失败")

	r, err := DeriveKey("report", map[string]any{"url": "http://127.0.0.1:8080/report"})
	require.NoError(t, err)
	assert.Contains(t, string(r), "report:")

	m1, err := DeriveKey("mock", nil)
	require.NoError(t, err)
	m2, _ := DeriveKey("mock", map[string]any{"reply": "x"})
	assert.Equal(t, m1, m2)
}
