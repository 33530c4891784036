package boltstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rachitkumar205/entgldb/internal/docmodel"
	"github.com/rachitkumar205/entgldb/internal/store"
)

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

func extractPath(content []byte, path string) (any, bool) {
	if len(content) == 0 {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func compareAny(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
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
