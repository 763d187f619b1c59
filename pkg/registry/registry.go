// Package registry: 显式的名称 → 工厂映射（零反射）。所有工厂接收原样 JSON Options 并严格解码。
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"bcaugment/pkg/contract"
	"bcaugment/plugins/llmclient/flaky"
	"bcaugment/plugins/llmclient/mock"
	"bcaugment/plugins/llmclient/openai"
	"bcaugment/plugins/llmclient/report"
	rfs "bcaugment/plugins/reader/filesystem"
	wfs "bcaugment/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	return nil
}

// NewGenerator 工厂签名。
type NewGenerator func(raw json.RawMessage) (contract.TextGenerator, error)

// NewReader 工厂签名。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewWriter 工厂签名。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// generator 先按 Options 类型严格校验，再交给实现自身解析默认值。
func generator[O any, G contract.TextGenerator](build func(json.RawMessage) (G, error)) NewGenerator {
	return func(raw json.RawMessage) (contract.TextGenerator, error) {
		var opts O
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		g, err := build(raw)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
}

// Generator 文本生成协作方注册表。
var Generator = map[string]NewGenerator{
	// openai: OpenAI 兼容 chat/completions
	"openai": generator[openai.Options](openai.New),
	// report: 内部病历生成服务 {"report": prompt} → llm_ret
	"report": generator[report.Options](report.New),
	"mock":   generator[mock.Options](mock.New),
	// flaky: 前两次调用失败，用于验证重试
	"flaky": generator[flaky.Options](flaky.New),
}

// Reader 注册表。
var Reader = map[string]NewReader{
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Writer 注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
