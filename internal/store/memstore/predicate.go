package memstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/store"
)

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// matches evaluates the predicate AST against doc's JSON content.
func matches(doc docmodel.Document, q store.Query) bool {
	switch {
	case q.Leaf != nil:
		return matchLeaf(doc, *q.Leaf)
	case len(q.And) > 0:
		for _, sub := range q.And {
			if !matches(doc, sub) {
				return false
			}
		}
		return true
	case len(q.Or) > 0:
		for _, sub := range q.Or {
			if matches(doc, sub) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func matchLeaf(doc docmodel.Document, leaf store.Leaf) bool {
	actual, ok := extractPath(doc.Content, leaf.PropertyPath)
	if !ok {
		return false
	}
	switch leaf.Op {
	case store.OpEq:
		return compareAny(actual, leaf.Value) == 0
	case store.OpNeq:
		return compareAny(actual, leaf.Value) != 0
	case store.OpGt:
		return compareAny(actual, leaf.Value) > 0
	case store.OpGte:
		return compareAny(actual, leaf.Value) >= 0
	case store.OpLt:
		return compareAny(actual, leaf.Value) < 0
	case store.OpLte:
		return compareAny(actual, leaf.Value) <= 0
	case store.OpContains:
		as, aok := actual.(string)
		vs, vok := leaf.Value.(string)
		return aok && vok && strings.Contains(as, vs)
	default:
		return false
	}
}

// compareAny orders two decoded JSON scalars. Numbers compare numerically,
// strings lexically, booleans false<true. Any other pairing (mismatched
// types, nils) compares as equal (0) when both values print the same
// with %v, and as less (-1) otherwise.
func compareAny(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return compareFloat(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0
			}
			if !av && bv {
				return -1
			}
			return 1
		}
	}
	if fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) {
		return 0
	}
	return -1
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
