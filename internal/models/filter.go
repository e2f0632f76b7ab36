package models

import (
	"fmt"
	"slices"
)

type Op string

const (
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpIn Op = "in"
)

// Condition compares one metadata field against Values. Eq and Ne use Values[0].
type Condition struct {
	Field  string   `json:"field"`
	Op     Op       `json:"op"`
	Values []string `json:"values"`
}

// Filter is a conjunction of conditions. A nil or empty filter matches everything.
type Filter struct {
	Conditions []Condition `json:"conditions"`
}

func NewFilter(conds ...Condition) *Filter {
	return &Filter{Conditions: conds}
}

func Eq(field, value string) Condition {
	return Condition{Field: field, Op: OpEq, Values: []string{value}}
}

func Ne(field, value string) Condition {
	return Condition{Field: field, Op: OpNe, Values: []string{value}}
}

func In(field string, values ...string) Condition {
	return Condition{Field: field, Op: OpIn, Values: values}
}

func (f *Filter) Empty() bool {
	return f == nil || len(f.Conditions) == 0
}

func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	for _, c := range f.Conditions {
		if c.Field == "" {
			return fmt.Errorf("filter condition without field")
		}
		switch c.Op {
		case OpEq, OpNe:
			if len(c.Values) != 1 {
				return fmt.Errorf("filter %s on %q needs exactly one value", c.Op, c.Field)
			}
		case OpIn:
			if len(c.Values) == 0 {
				return fmt.Errorf("filter in on %q needs at least one value", c.Field)
			}
		default:
			return fmt.Errorf("unknown filter op %q", c.Op)
		}
	}
	return nil
}

// Match evaluates the filter against metadata. A missing field never equals a value.
func (f *Filter) Match(metadata map[string]any) bool {
	if f.Empty() {
		return true
	}
	for _, c := range f.Conditions {
		v, ok := metadata[c.Field]
		s := MetadataString(v)
		switch c.Op {
		case OpEq:
			if !ok || s != c.Values[0] {
				return false
			}
		case OpNe:
			if ok && s == c.Values[0] {
				return false
			}
		case OpIn:
			if !ok || !slices.Contains(c.Values, s) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// EqualityOnly returns the field->value map when every condition is eq.
func (f *Filter) EqualityOnly() (map[string]string, bool) {
	if f.Empty() {
		return nil, true
	}
	where := make(map[string]string, len(f.Conditions))
	for _, c := range f.Conditions {
		if c.Op != OpEq || len(c.Values) != 1 {
			return nil, false
		}
		if prev, dup := where[c.Field]; dup && prev != c.Values[0] {
			return nil, false
		}
		where[c.Field] = c.Values[0]
	}
	return where, true
}
