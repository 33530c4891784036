package store

// QueryOp is the comparison operator of a leaf predicate.
type QueryOp string

const (
	OpEq       QueryOp = "eq"
	OpNeq      QueryOp = "neq"
	OpGt       QueryOp = "gt"
	OpGte      QueryOp = "gte"
	OpLt       QueryOp = "lt"
	OpLte      QueryOp = "lte"
	OpContains QueryOp = "contains"
)

// Query is the small predicate AST Find/Count accept: either a leaf
// comparison against a document property path, or a logical combination
// of sub-queries. Exactly one of Leaf/And/Or is set.
type Query struct {
	Leaf *Leaf
	And  []Query
	Or   []Query
}

// Leaf compares the value at PropertyPath (dot-separated into the
// document's JSON content) against Value using Op.
type Leaf struct {
	PropertyPath string
	Op           QueryOp
	Value        any
}

// Eq builds an equality leaf query.
func Eq(path string, value any) Query { return leaf(path, OpEq, value) }

// Neq builds an inequality leaf query.
func Neq(path string, value any) Query { return leaf(path, OpNeq, value) }

// Gt builds a greater-than leaf query.
func Gt(path string, value any) Query { return leaf(path, OpGt, value) }

// Gte builds a greater-than-or-equal leaf query.
func Gte(path string, value any) Query { return leaf(path, OpGte, value) }

// Lt builds a less-than leaf query.
func Lt(path string, value any) Query { return leaf(path, OpLt, value) }

// Lte builds a less-than-or-equal leaf query.
func Lte(path string, value any) Query { return leaf(path, OpLte, value) }

// Contains builds a substring/membership leaf query.
func Contains(path string, value any) Query { return leaf(path, OpContains, value) }

func leaf(path string, op QueryOp, value any) Query {
	return Query{Leaf: &Leaf{PropertyPath: path, Op: op, Value: value}}
}

// And combines queries with logical AND.
func And(queries ...Query) Query { return Query{And: queries} }

// Or combines queries with logical OR.
func Or(queries ...Query) Query { return Query{Or: queries} }

// IsZero reports whether q matches every document (no predicate at all).
func (q Query) IsZero() bool {
	return q.Leaf == nil && len(q.And) == 0 && len(q.Or) == 0
}

// FindOptions controls pagination and ordering for Store.QueryDocuments.
type FindOptions struct {
	Skip        int
	Take        int // 0 means unlimited
	OrderByPath string
	Ascending   bool
}
