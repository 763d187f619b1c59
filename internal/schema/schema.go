// Package schema 提供字段规则目录：候选项、数值范围、默认值与字段关联。
// 加载一次后只读，可被任意数量的采样协程共享。
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bcaugment/pkg/contract"
)

//go:embed rules/breast_cancer_rules.json
var defaultRules []byte

// FieldType: 字段取值类型。
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeDate   FieldType = "date"
	TypeList   FieldType = "list"
)

// DateLayout 为日期字段的文本格式。
const DateLayout = "2006-01-02"

// Range: 数值闭区间。
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// FieldDef: 单个字段的声明。
type FieldDef struct {
	Type     FieldType `json:"type"`
	Options  []string  `json:"options,omitempty"`
	Range    *Range    `json:"range,omitempty"`
	Default  string    `json:"default,omitempty"`
	Required bool      `json:"required,omitempty"`
}

type document struct {
	Fields map[string]FieldDef `json:"fields"`
	Links  map[string][]string `json:"links,omitempty"`
	Logic  []json.RawMessage   `json:"logic,omitempty"`
}

// Schema: 只读字段目录。零值等价于空目录。
type Schema struct {
	defs  map[contract.FieldID]FieldDef
	links map[contract.FieldID][]contract.FieldID
}

// Empty 返回空目录（全部查询返回零值，校验一律失败）。
func Empty() *Schema { return &Schema{} }

// Default 解析内置规则文档。
func Default() (*Schema, error) { return Parse(bytes.NewReader(defaultRules)) }

// Parse 严格解析规则文档：未知键、未登记字段名、非法类型或范围均报错。
func Parse(r io.Reader) (*Schema, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: rules: %v", contract.ErrInvalidInput, err)
	}
	s := &Schema{
		defs:  make(map[contract.FieldID]FieldDef, len(doc.Fields)),
		links: make(map[contract.FieldID][]contract.FieldID, len(doc.Links)),
	}
	for name, def := range doc.Fields {
		id, ok := contract.LookupField(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", contract.ErrUnknownField, name)
		}
		if def.Type == "" {
			def.Type = TypeString
		}
		switch def.Type {
		case TypeString, TypeNumber, TypeDate, TypeList:
		default:
			return nil, fmt.Errorf("%w: field %s: type %q", contract.ErrInvalidInput, name, def.Type)
		}
		if def.Range != nil && def.Range.Min > def.Range.Max {
			return nil, fmt.Errorf("%w: field %s: range min>max", contract.ErrInvalidInput, name)
		}
		s.defs[id] = def
	}
	for name, linked := range doc.Links {
		id, ok := contract.LookupField(name)
		if !ok {
			return nil, fmt.Errorf("%w: link %q", contract.ErrUnknownField, name)
		}
		ids, err := contract.ParseFields(linked)
		if err != nil {
			return nil, fmt.Errorf("link %s: %w", name, err)
		}
		s.links[id] = ids
	}
	return s, nil
}

// Load 从路径加载规则；path 为空时使用内置规则。
// 任意失败均降级为空目录并记录告警，不向上返回错误。
func Load(path string, logger zerolog.Logger) *Schema {
	var (
		s   *Schema
		err error
	)
	if strings.TrimSpace(path) == "" {
		s, err = Default()
	} else {
		var f *os.File
		f, err = os.Open(path)
		if err == nil {
			s, err = Parse(f)
			_ = f.Close()
		}
	}
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("schema_load_failed_fallback_empty")
		return Empty()
	}
	logger.Debug().Str("path", path).Int("fields", len(s.defs)).Msg("schema_loaded")
	return s
}

// Defs 返回已声明字段（按字段枚举顺序）。
func (s *Schema) Defs() []contract.FieldID {
	out := make([]contract.FieldID, 0, len(s.defs))
	for _, f := range contract.AllFields() {
		if _, ok := s.defs[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func (s *Schema) Def(f contract.FieldID) (FieldDef, bool) {
	d, ok := s.defs[f]
	return d, ok
}

func (s *Schema) Options(f contract.FieldID) []string {
	return append([]string(nil), s.defs[f].Options...)
}

func (s *Schema) Default(f contract.FieldID) string { return s.defs[f].Default }

func (s *Schema) Range(f contract.FieldID) (Range, bool) {
	d, ok := s.defs[f]
	if !ok || d.Range == nil {
		return Range{}, false
	}
	return *d.Range, true
}

func (s *Schema) LinkedFields(f contract.FieldID) []contract.FieldID {
	return append([]contract.FieldID(nil), s.links[f]...)
}

// Validate 校验单个取值：候选项成员或数值范围。未声明字段一律不通过；
// 非必填字段允许空值。
func (s *Schema) Validate(f contract.FieldID, v contract.Value) bool {
	def, ok := s.defs[f]
	if !ok {
		return false
	}
	if v.IsEmpty() {
		return !def.Required
	}
	if def.Type == TypeList {
		return v.Kind() == contract.KindSchemes || v.Kind() == contract.KindDrugs
	}
	if v.Kind() != contract.KindText {
		return false
	}
	text := strings.TrimSpace(v.Text())
	if len(def.Options) > 0 {
		for _, o := range def.Options {
			if o == text {
				return true
			}
		}
		return false
	}
	switch def.Type {
	case TypeNumber:
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return false
		}
		if def.Range != nil && (n < def.Range.Min || n > def.Range.Max) {
			return false
		}
	case TypeDate:
		if _, err := time.Parse(DateLayout, text); err != nil {
			return false
		}
	}
	return true
}

// Violation: 单个字段的校验失败项。
type Violation struct {
	Field contract.FieldID `json:"field"`
	Value string           `json:"value"`
}

// ValidateRecord 逐字段校验，返回失败项（按记录字段顺序）；嵌套子记录跳过。
func (s *Schema) ValidateRecord(rec *contract.Record) []Violation {
	var out []Violation
	for _, f := range rec.Fields() {
		v, _ := rec.Get(f)
		if v.Kind() == contract.KindNested {
			continue
		}
		if !s.Validate(f, v) {
			out = append(out, Violation{Field: f, Value: v.String()})
		}
	}
	return out
}
