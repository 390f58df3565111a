package embed

import (
	"github.com/nomis52/embedflow/config"
)

// Default country filter values.
const (
	BasicFilterSchema = "http://powerbi.com/product/schema#basic"
	OperatorIn        = "In"
	FilterTypeBasic   = 1
)

// Target is the table column a filter applies to.
type Target struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Filter is a declarative predicate applied by the surface.
type Filter struct {
	Schema                 string `json:"$schema"`
	Target                 Target `json:"target"`
	Operator               string `json:"operator"`
	Values                 []any  `json:"values"`
	FilterType             int    `json:"filterType"`
	RequireSingleSelection bool   `json:"requireSingleSelection"`
}

// FilterFromConfig builds the basic "In" filter described by cfg.
func FilterFromConfig(cfg config.FilterConfig) Filter {
	values := make([]any, len(cfg.Values))
	for i, v := range cfg.Values {
		values[i] = v
	}
	schema := cfg.Schema
	if schema == "" {
		schema = BasicFilterSchema
	}
	return Filter{
		Schema:     schema,
		Target:     Target{Table: cfg.Table, Column: cfg.Column},
		Operator:   OperatorIn,
		Values:     values,
		FilterType: FilterTypeBasic,
	}
}

// MergeFilters appends extra after existing. Existing filters keep their
// order and are never deduplicated against extra.
func MergeFilters(existing []Filter, extra ...Filter) []Filter {
	merged := make([]Filter, 0, len(existing)+len(extra))
	merged = append(merged, existing...)
	return append(merged, extra...)
}
