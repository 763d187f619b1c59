// Package report 调用内部病历生成服务：POST {"report": prompt}，读取响应的 llm_ret 字段。
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"bcaugment/pkg/contract"
	"bcaugment/plugins/llmclient/upstream"
)

type Options struct {
	URL            string            `json:"url"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Headers        map[string]string `json:"headers"`
	// 可选鉴权：非空时以 Bearer 方式携带。
	APIKey    string `json:"api_key,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty"`
}

const defaultTimeout = 10 * time.Second

type Client struct {
	url     string
	apiKey  string
	headers map[string]string
	do      func(*http.Request) (*http.Response, error)
}

var _ contract.TextGenerator = (*Client)(nil)

func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("report options: %w", err)
		}
	}
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("report: %w: missing url", contract.ErrInvalidInput)
	}
	timeout := defaultTimeout
	if opts.TimeoutSeconds > 0 {
		timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	hc := &http.Client{Timeout: timeout}
	return &Client{url: opts.URL, apiKey: key, headers: opts.Headers, do: hc.Do}, nil
}

type request struct {
	Report string `json:"report"`
}

type response struct {
	LLMRet *string `json:"llm_ret"`
}

// Generate 返回去除 "**" 与首尾空白后的 llm_ret；响应缺少该字段时返回 ErrResponseInvalid。
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(request{Report: prompt})
	if err != nil {
		return "", fmt.Errorf("report encode: %v: %w", err, contract.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("report request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		if k != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.do(req)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return "", cerr
		}
		return "", err
	}
	defer resp.Body.Close()
	if err := upstream.Check("report", resp); err != nil {
		return "", err
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("report decode: %v: %w", err, contract.ErrResponseInvalid)
	}
	if out.LLMRet == nil {
		return "", fmt.Errorf("report: %w: missing llm_ret", contract.ErrResponseInvalid)
	}
	return strings.TrimSpace(strings.ReplaceAll(*out.LLMRet, "**", "")), nil
}
