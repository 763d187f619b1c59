// Package flaky 提供带状态的故障注入实现，用于验证重试与降级路径。
package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"bcaugment/pkg/contract"
	"bcaugment/plugins/llmclient/mock"
)

type Options struct {
	Prefix string `json:"prefix"`
	// LogPath: 调试用日志文件，逐行记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client:
// 第一次调用返回 ErrRateLimited；
// 第二次返回 ErrResponseInvalid；
// 之后委托给 mock 实现。
type Client struct {
	next    *mock.Client
	logPath string
	count   atomic.Int32
}

var _ contract.TextGenerator = (*Client)(nil)

func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	b, _ := json.Marshal(mock.Options{Prefix: o.Prefix})
	next, err := mock.New(b)
	if err != nil {
		return nil, err
	}
	return &Client{next: next, logPath: o.LogPath}, nil
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int { return int(c.count.Load()) }

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	f, err := os.OpenFile(c.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(s + "\n")
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	switch c.count.Add(1) {
	case 1:
		c.log("rate_limited")
		return "", contract.ErrRateLimited
	case 2:
		c.log("invalid_response")
		return "", fmt.Errorf("flaky: %w", contract.ErrResponseInvalid)
	default:
		c.log("ok")
		return c.next.Generate(ctx, prompt)
	}
}
