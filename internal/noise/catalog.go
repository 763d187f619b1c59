package noise

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"bcaugment/pkg/contract"
)

// Type: 噪声类型标签。
type Type string

const (
	TypeAdministrative Type = "administrative"
	TypeHospitalInfo   Type = "hospital_info"
	TypeExamination    Type = "examination"
	TypeElectronic     Type = "electronic_trace"
	TypeAddress        Type = "address"
	TypeDuplicate      Type = "duplicate"
	TypeCovidTest      Type = "covid_test"
	TypeTableHeader    Type = "table_header"
	TypeTableRowMerge  Type = "table_row_merge"
	TypeLabResult      Type = "detailed_lab_result"
	TypeSerialMerge    Type = "serial_merge"
	TypeDoctorAdvice   Type = "doctor_advice"
	TypeRemoveSpace    Type = "remove_space"
	TypeComputerMenu   Type = "computer_menu"
)

// canonicalOrder 决定加权抽样时的遍历顺序（保证同种子可复现）。
var canonicalOrder = []Type{
	TypeAdministrative, TypeHospitalInfo, TypeExamination, TypeElectronic, TypeAddress,
	TypeDuplicate, TypeCovidTest, TypeTableHeader, TypeTableRowMerge, TypeLabResult,
	TypeSerialMerge, TypeDoctorAdvice, TypeRemoveSpace, TypeComputerMenu,
}

// 串行、检验、表格行拼接三类的抽样权重放大倍数。
const boostFactor = 3

var boosted = map[Type]bool{TypeSerialMerge: true, TypeLabResult: true, TypeTableRowMerge: true}

// Local 报告该类型是否为本地变换（不调用协作方）。
func (t Type) Local() bool { return t == TypeRemoveSpace }

// Entry: 单个噪声类型的抽样权重与输出长度约束（字）。
type Entry struct {
	Type   Type
	Weight float64
	Min    int
	Max    int
}

// Catalog: 有序的噪声类型目录，构造后只读。
type Catalog struct {
	entries []Entry
	total   float64
}

// DefaultCatalog 返回内置目录。
func DefaultCatalog() *Catalog {
	c, _ := newCatalog([]Entry{
		{TypeAdministrative, 0.2, 50, 100},
		{TypeHospitalInfo, 0.1, 30, 80},
		{TypeExamination, 0.1, 50, 200},
		{TypeElectronic, 0.1, 50, 100},
		{TypeAddress, 0.1, 50, 100},
		{TypeDuplicate, 0.1, 50, 100},
		{TypeCovidTest, 0.05, 30, 80},
		{TypeTableHeader, 0.1, 30, 80},
		{TypeTableRowMerge, 0.1, 50, 120},
		{TypeLabResult, 0.1, 100, 300},
		{TypeSerialMerge, 0.1, 80, 200},
		{TypeDoctorAdvice, 0.1, 30, 80},
		{TypeRemoveSpace, 0.2, 0, 0},
		{TypeComputerMenu, 0.1, 30, 80},
	})
	return c
}

func newCatalog(entries []Entry) (*Catalog, error) {
	rank := make(map[Type]int, len(canonicalOrder))
	for i, t := range canonicalOrder {
		rank[t] = i
	}
	c := &Catalog{}
	for _, e := range entries {
		if _, ok := rank[e.Type]; !ok {
			return nil, fmt.Errorf("noise catalog: %w: unknown type %q", contract.ErrInvalidInput, e.Type)
		}
		if e.Weight < 0 || e.Min < 0 || (e.Max > 0 && e.Max < e.Min) {
			return nil, fmt.Errorf("noise catalog: %w: bad entry %q", contract.ErrInvalidInput, e.Type)
		}
		if e.Weight == 0 {
			continue
		}
		c.entries = append(c.entries, e)
	}
	sort.SliceStable(c.entries, func(i, j int) bool { return rank[c.entries[i].Type] < rank[c.entries[j].Type] })
	for _, e := range c.entries {
		c.total += c.weight(e)
	}
	return c, nil
}

func (c *Catalog) weight(e Entry) float64 {
	if boosted[e.Type] {
		return e.Weight * boostFactor
	}
	return e.Weight
}

// Entries 返回目录条目副本。
func (c *Catalog) Entries() []Entry { return append([]Entry(nil), c.entries...) }

// Lookup 查找类型条目。
func (c *Catalog) Lookup(t Type) (Entry, bool) {
	for _, e := range c.entries {
		if e.Type == t {
			return e, true
		}
	}
	return Entry{}, false
}

// Pick 按（放大后的）权重抽取一个类型；目录为空时返回 false。
func (c *Catalog) Pick(rng *rand.Rand) (Type, bool) {
	if len(c.entries) == 0 || c.total <= 0 {
		return "", false
	}
	x := rng.Float64() * c.total
	for _, e := range c.entries {
		x -= c.weight(e)
		if x < 0 {
			return e.Type, true
		}
	}
	return c.entries[len(c.entries)-1].Type, true
}

type catalogDoc struct {
	Weight *float64 `json:"weight"`
	Prob   *float64 `json:"prob"`
	Length []int    `json:"length"`
}

// ParseCatalog 解析 {type: {weight, length:[min,max]}}；兼容旧配置中的 prob 键。
// 文件中未出现的类型不参与抽样。
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var doc map[Type]catalogDoc
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("noise catalog: %w: %v", contract.ErrInvalidInput, err)
	}
	entries := make([]Entry, 0, len(doc))
	for t, d := range doc {
		e := Entry{Type: t}
		switch {
		case d.Weight != nil:
			e.Weight = *d.Weight
		case d.Prob != nil:
			e.Weight = *d.Prob
		}
		switch len(d.Length) {
		case 0:
		case 2:
			e.Min, e.Max = d.Length[0], d.Length[1]
		default:
			return nil, fmt.Errorf("noise catalog: %w: %q length must be [min,max]", contract.ErrInvalidInput, t)
		}
		entries = append(entries, e)
	}
	return newCatalog(entries)
}

// LoadCatalog 读取目录文件；path 为空时返回内置目录。
// 读取或解析失败时记录告警并回落为内置目录。
func LoadCatalog(path string, logger zerolog.Logger) *Catalog {
	if path == "" {
		return DefaultCatalog()
	}
	f, err := os.Open(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("noise_catalog_load_failed_fallback_default")
		return DefaultCatalog()
	}
	defer f.Close()
	c, err := ParseCatalog(f)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("noise_catalog_load_failed_fallback_default")
		return DefaultCatalog()
	}
	return c
}
