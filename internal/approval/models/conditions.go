package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	dErrors "approvalflow/pkg/domain-errors"
)

// Operator compares a payload field with a configured value.
type Operator string

const (
	OpEq     Operator = "eq"
	OpNe     Operator = "ne"
	OpGt     Operator = "gt"
	OpGte    Operator = "gte"
	OpLt     Operator = "lt"
	OpLte    Operator = "lte"
	OpIn     Operator = "in"
	OpExists Operator = "exists"
)

func (o Operator) IsValid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpExists:
		return true
	}
	return false
}

// Condition is a single predicate over the gated request's payload.
// Field is a dotted path into the JSON object, e.g. "fee.amount".
type Condition struct {
	Field string   `json:"field" yaml:"field"`
	Op    Operator `json:"op" yaml:"op"`
	Value any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Conditions decide whether a request needs approval at all. Every predicate
// must hold; an empty set always holds.
type Conditions []Condition

// Validate rejects predicates that can never be evaluated.
func (c Conditions) Validate() error {
	for i, cond := range c {
		if strings.TrimSpace(cond.Field) == "" {
			return dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("condition %d: field is required", i))
		}
		if !cond.Op.IsValid() {
			return dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("condition %d: unknown operator %q", i, cond.Op))
		}
		if cond.Op == OpExists {
			continue
		}
		if cond.Value == nil {
			return dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("condition %d: value is required for %q", i, cond.Op))
		}
		if cond.Op == OpIn && !isSlice(cond.Value) {
			return dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("condition %d: %q needs a list value", i, cond.Op))
		}
	}
	return nil
}

// Evaluate reports whether payload satisfies every condition. A missing field
// fails every operator except ne.
func (c Conditions) Evaluate(payload map[string]any) bool {
	for _, cond := range c {
		if !cond.holds(payload) {
			return false
		}
	}
	return true
}

func (cond Condition) holds(payload map[string]any) bool {
	actual, found := lookup(payload, cond.Field)
	switch cond.Op {
	case OpExists:
		return found
	case OpNe:
		return !found || !equal(actual, cond.Value)
	}
	if !found {
		return false
	}
	switch cond.Op {
	case OpEq:
		return equal(actual, cond.Value)
	case OpIn:
		return contains(cond.Value, actual)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compare(actual, cond.Value)
		if !ok {
			return false
		}
		switch cond.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

// DecodePayload normalizes an arbitrary request payload into a JSON object.
// Numbers decode as json.Number so large amounts keep their precision.
func DecodePayload(data any) (map[string]any, error) {
	var raw []byte
	switch v := data.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func lookup(payload map[string]any, path string) (any, bool) {
	var current any = payload
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func contains(list, needle any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(rv.Index(i).Interface(), needle) {
			return true
		}
	}
	return false
}

func isSlice(v any) bool {
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
