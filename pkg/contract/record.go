package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ValueKind: 字段值的表示形态。
type ValueKind uint8

const (
	// KindText: 标量文本（数值也以文本承载）。
	KindText ValueKind = iota
	// KindSchemes: 治疗方案名称列表。
	KindSchemes
	// KindDrugs: 分类药品明细列表。
	KindDrugs
	// KindNested: 嵌套子记录。
	KindNested
)

// Drug: 药品明细条目。
type Drug struct {
	Name     string `json:"药品名称"`
	Category string `json:"药品类别"`
}

// Value: 字段值。零值为空文本。
type Value struct {
	kind    ValueKind
	text    string
	schemes []string
	drugs   []Drug
	nested  *Record
}

func Text(s string) Value { return Value{kind: KindText, text: s} }

func Schemes(names ...string) Value {
	return Value{kind: KindSchemes, schemes: append([]string{}, names...)}
}

func Drugs(items ...Drug) Value {
	return Value{kind: KindDrugs, drugs: append([]Drug{}, items...)}
}

func Nested(r *Record) Value {
	if r == nil {
		r = &Record{}
	}
	return Value{kind: KindNested, nested: r}
}

func (v Value) Kind() ValueKind { return v.kind }

// Text 返回标量文本；非文本形态返回空串。
func (v Value) Text() string {
	if v.kind != KindText {
		return ""
	}
	return v.text
}

func (v Value) Schemes() []string { return append([]string(nil), v.schemes...) }

func (v Value) Drugs() []Drug { return append([]Drug(nil), v.drugs...) }

// Nested 返回嵌套子记录（与值共享）。
func (v Value) Nested() (*Record, bool) {
	if v.kind != KindNested || v.nested == nil {
		return nil, false
	}
	return v.nested, true
}

// IsEmpty: 空文本、空列表、空子记录均视为空值（字段存在但无内容）。
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindSchemes:
		return len(v.schemes) == 0
	case KindDrugs:
		return len(v.drugs) == 0
	case KindNested:
		return v.nested == nil || v.nested.Len() == 0
	default:
		return strings.TrimSpace(v.text) == ""
	}
}

// String 返回适合拼入正文的可读形式。
func (v Value) String() string {
	switch v.kind {
	case KindSchemes:
		return strings.Join(v.schemes, "、")
	case KindDrugs:
		names := make([]string, 0, len(v.drugs))
		for _, d := range v.drugs {
			names = append(names, d.Name)
		}
		return strings.Join(names, "、")
	case KindNested:
		if v.nested == nil {
			return ""
		}
		b, _ := json.Marshal(v.nested)
		return string(b)
	default:
		return v.text
	}
}

// Clone 深拷贝值（嵌套子记录一并复制）。
func (v Value) Clone() Value {
	out := Value{kind: v.kind, text: v.text}
	if v.schemes != nil {
		out.schemes = append([]string{}, v.schemes...)
	}
	if v.drugs != nil {
		out.drugs = append([]Drug{}, v.drugs...)
	}
	if v.nested != nil {
		out.nested = v.nested.Clone()
	}
	return out
}

// Equal 报告两值形态与内容是否一致。
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindSchemes:
		if len(v.schemes) != len(o.schemes) {
			return false
		}
		for i := range v.schemes {
			if v.schemes[i] != o.schemes[i] {
				return false
			}
		}
		return true
	case KindDrugs:
		if len(v.drugs) != len(o.drugs) {
			return false
		}
		for i := range v.drugs {
			if v.drugs[i] != o.drugs[i] {
				return false
			}
		}
		return true
	case KindNested:
		return v.nested.Equal(o.nested)
	default:
		return v.text == o.text
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindSchemes:
		return json.Marshal(append([]string{}, v.schemes...))
	case KindDrugs:
		return json.Marshal(append([]Drug{}, v.drugs...))
	case KindNested:
		if v.nested == nil {
			return []byte("{}"), nil
		}
		return v.nested.MarshalJSON()
	default:
		return json.Marshal(v.text)
	}
}

// UnmarshalJSON 映射规则：字符串/数字/null → 文本；字符串数组 → 方案列表；
// 对象数组或空数组 → 药品明细；对象 → 嵌套子记录。其余形态视为无效输入。
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("%w: empty value", ErrInvalidInput)
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Text(s)
	case 'n':
		*v = Text("")
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			*v = Drugs()
			return nil
		}
		switch bytes.TrimSpace(items[0])[0] {
		case '"':
			var names []string
			if err := json.Unmarshal(b, &names); err != nil {
				return fmt.Errorf("%w: mixed list: %v", ErrInvalidInput, err)
			}
			*v = Schemes(names...)
		case '{':
			var ds []Drug
			dec := json.NewDecoder(bytes.NewReader(b))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&ds); err != nil {
				return fmt.Errorf("%w: drug list: %v", ErrInvalidInput, err)
			}
			*v = Drugs(ds...)
		default:
			return fmt.Errorf("%w: unsupported list element", ErrInvalidInput)
		}
	case '{':
		r := &Record{}
		if err := r.UnmarshalJSON(b); err != nil {
			return err
		}
		*v = Nested(r)
	case 't', 'f':
		return fmt.Errorf("%w: boolean value", ErrInvalidInput)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		*v = Text(n.String())
	}
	return nil
}

// Record: 单个合成患者的有序字段映射。
// 显式区分“缺失”（Get 返回 false）与“存在但为空”（Value.IsEmpty）。零值可直接使用。
type Record struct {
	order []FieldID
	vals  map[FieldID]Value
}

// NewRecord 以给定字段全部置空文本构造记录。
func NewRecord(fields ...FieldID) *Record {
	r := &Record{}
	for _, f := range fields {
		r.Set(f, Text(""))
	}
	return r
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Set 写入字段；已存在字段保持原有位置。
func (r *Record) Set(f FieldID, v Value) {
	if r.vals == nil {
		r.vals = make(map[FieldID]Value)
	}
	if _, ok := r.vals[f]; !ok {
		r.order = append(r.order, f)
	}
	r.vals[f] = v
}

func (r *Record) SetText(f FieldID, s string) { r.Set(f, Text(s)) }

func (r *Record) Get(f FieldID) (Value, bool) {
	if r == nil || r.vals == nil {
		return Value{}, false
	}
	v, ok := r.vals[f]
	return v, ok
}

func (r *Record) Has(f FieldID) bool {
	_, ok := r.Get(f)
	return ok
}

// TextOf 返回字段的可读文本；缺失时为空串。
func (r *Record) TextOf(f FieldID) string {
	v, ok := r.Get(f)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.String())
}

// NonEmpty 报告字段存在且有内容。
func (r *Record) NonEmpty(f FieldID) bool {
	v, ok := r.Get(f)
	return ok && !v.IsEmpty()
}

func (r *Record) Delete(f FieldID) {
	if r == nil || r.vals == nil {
		return
	}
	if _, ok := r.vals[f]; !ok {
		return
	}
	delete(r.vals, f)
	for i, id := range r.order {
		if id == f {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// Fields 返回字段顺序的副本。
func (r *Record) Fields() []FieldID {
	if r == nil {
		return nil
	}
	return append([]FieldID(nil), r.order...)
}

// Merge 依序写入 other 的全部字段（后写覆盖先写）。
func (r *Record) Merge(other *Record) {
	for _, f := range other.Fields() {
		v, _ := other.Get(f)
		r.Set(f, v.Clone())
	}
}

func (r *Record) Clone() *Record {
	out := &Record{}
	if r == nil {
		return out
	}
	for _, f := range r.order {
		out.Set(f, r.vals[f].Clone())
	}
	return out
}

// Equal 比较字段集合与取值（忽略顺序）。
func (r *Record) Equal(o *Record) bool {
	if r.Len() != o.Len() {
		return false
	}
	for _, f := range r.Fields() {
		a, _ := r.Get(f)
		b, ok := o.Get(f)
		if !ok || !a.Equal(b) {
			return false
		}
	}
	return true
}

func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.String())
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		vb, err := r.vals[f].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 保留键的出现顺序；未登记字段名返回 ErrUnknownField。
func (r *Record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: record must be an object", ErrInvalidInput)
	}
	*r = Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		f, ok := LookupField(key)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		r.Set(f, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
