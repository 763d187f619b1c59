// Package mock 提供离线、确定性的文本生成实现，用于无网络联调与测试。
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"bcaugment/pkg/contract"
)

type Options struct {
	// Prefix: 无可提取内容时的回显前缀，默认 "MOCK"。
	Prefix string `json:"prefix"`
	// Reply: 非空时对任何提示都返回该文本。
	Reply string `json:"reply,omitempty"`
	// APIKey: 仅用于限流分组，不参与请求。
	APIKey string `json:"api_key,omitempty"`
}

type Client struct {
	prefix string
	reply  string
}

var _ contract.TextGenerator = (*Client)(nil)

func New(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	return &Client{prefix: o.Prefix, reply: o.Reply}, nil
}

// 提示中固定的身份行，例如 "姓名：李敏，性别：女，年龄：63岁"。
var identityLine = regexp.MustCompile(`姓名：\p{Han}+，性别：女，年龄：\d+岁`)

// Generate 不做任何网络调用：
//  1. Reply 非空时原样返回；
//  2. 提示含 "- " 列表项时，以 "，" 拼接列表项作为病历正文；
//  3. 提示含固定身份行时返回该行（噪声块）；
//  4. 否则回显 "Prefix: 提示前 40 字"。
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.reply != "" {
		return c.reply, nil
	}
	var items []string
	for _, line := range strings.Split(prompt, "\n") {
		if s, ok := strings.CutPrefix(strings.TrimSpace(line), "- "); ok && s != "" {
			items = append(items, s)
		}
	}
	if len(items) > 0 {
		return strings.Join(items, "，") + "。", nil
	}
	if m := identityLine.FindString(prompt); m != "" {
		return m, nil
	}
	r := []rune(prompt)
	return c.prefix + ": " + string(r[:min(len(r), 40)]), nil
}
