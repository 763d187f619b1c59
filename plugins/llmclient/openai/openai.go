// Package openai 通过 OpenAI 兼容的 chat/completions 接口生成文本。
package openai

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
	BaseURL        string   `json:"base_url"`    // 例如 https://api.openai.com/v1
	Model          string   `json:"model"`       // 为空则使用默认
	APIKeyEnv      string   `json:"api_key_env"` // 优先从环境变量读取
	APIKey         string   `json:"api_key"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	// System: 可选系统消息。
	System string `json:"system,omitempty"`
	// 兼容服务：endpoint_path 可为完整 URL。
	EndpointPath       string            `json:"endpoint_path"`
	DisableDefaultAuth bool              `json:"disable_default_auth"`
	ExtraHeaders       map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/chat/completions"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type Client struct {
	url         string
	apiKey      string
	model       string
	system      string
	temp        *float64
	maxTokens   int
	extraH      map[string]string
	disableAuth bool
	do          func(*http.Request) (*http.Response, error)
}

var _ contract.TextGenerator = (*Client)(nil)

// New 从原样 JSON 选项构造客户端。缺少 api key 时返回 ErrInvalidInput。
func New(raw json.RawMessage) (*Client, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	fullURL := opts.EndpointPath
	if !strings.HasPrefix(fullURL, "http://") && !strings.HasPrefix(fullURL, "https://") {
		fullURL = strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(opts.EndpointPath, "/")
	}
	return &Client{
		url:         fullURL,
		apiKey:      key,
		model:       opts.Model,
		system:      opts.System,
		temp:        opts.Temperature,
		maxTokens:   opts.MaxTokens,
		extraH:      opts.ExtraHeaders,
		disableAuth: opts.DisableDefaultAuth,
		do:          hc.Do,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) encode(prompt string) ([]byte, error) {
	req := request{Model: c.model, Temperature: c.temp, MaxTokens: c.maxTokens}
	if c.system != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: c.system})
	}
	req.Messages = append(req.Messages, message{Role: "user", Content: prompt})
	return json.Marshal(&req)
}

// Generate 单次调用，同步返回首个 choice 的内容。
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := c.encode(prompt)
	if err != nil {
		return "", fmt.Errorf("openai encode: %v: %w", err, contract.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai request: %v: %w", err, contract.ErrInvalidInput)
	}
	if !c.disableAuth {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
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
	if err := upstream.Check("openai", resp); err != nil {
		return "", err
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openai decode: %v: %w", err, contract.ErrResponseInvalid)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: %w: no choices", contract.ErrResponseInvalid)
	}
	return out.Choices[0].Message.Content, nil
}
