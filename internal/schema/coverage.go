package schema

import "bcaugment/pkg/contract"

// SparseThreshold: 覆盖率低于该值的字段视为稀疏。
const SparseThreshold = 0.1

// Coverage: 一批病例的字段覆盖统计。
type Coverage struct {
	Total  int                          `json:"total"`
	Ratio  map[contract.FieldID]float64 `json:"ratio"`
	Sparse []contract.FieldID           `json:"sparse"`
	// Invalid: 校验失败的取值数（按字段）。
	Invalid map[contract.FieldID]int `json:"invalid,omitempty"`
}

// Measure 统计已声明字段在病例中的非空覆盖率，并累计校验失败项。
func (s *Schema) Measure(cases []*contract.Record) Coverage {
	cov := Coverage{
		Total:   len(cases),
		Ratio:   make(map[contract.FieldID]float64),
		Invalid: make(map[contract.FieldID]int),
	}
	defs := s.Defs()
	counts := make(map[contract.FieldID]int, len(defs))
	for _, rec := range cases {
		for _, f := range defs {
			if rec.NonEmpty(f) {
				counts[f]++
			}
		}
		for _, v := range s.ValidateRecord(rec) {
			cov.Invalid[v.Field]++
		}
	}
	for _, f := range defs {
		r := 0.0
		if len(cases) > 0 {
			r = float64(counts[f]) / float64(len(cases))
		}
		cov.Ratio[f] = r
		if r < SparseThreshold {
			cov.Sparse = append(cov.Sparse, f)
		}
	}
	return cov
}
