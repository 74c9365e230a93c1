package query

import (
	"fmt"
)

// Logic combines child predicates.
type Logic string

const (
	And Logic = "$and"
	Or  Logic = "$or"
)

// ParseLogic accepts "and", "or" and their "$"-prefixed forms.
func ParseLogic(s string) (Logic, error) {
	switch s {
	case "and", "$and":
		return And, nil
	case "or", "$or":
		return Or, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLogic, s)
}

// Op is a comparison operator in its store-native form.
type Op string

const (
	Eq    Op = "$eq"
	Ne    Op = "$ne"
	Gt    Op = "$gt"
	Gte   Op = "$gte"
	Lt    Op = "$lt"
	Lte   Op = "$lte"
	In    Op = "$in"
	NotIn Op = "$nin"
)

var opAliases = map[string]Op{
	"=": Eq, "==": Eq, "eq": Eq, "$eq": Eq,
	"!=": Ne, "ne": Ne, "$ne": Ne,
	">": Gt, "gt": Gt, "$gt": Gt,
	">=": Gte, "gte": Gte, "$gte": Gte,
	"<": Lt, "lt": Lt, "$lt": Lt,
	"<=": Lte, "lte": Lte, "$lte": Lte,
	"in": In, "$in": In,
	"nin": NotIn, "not_in": NotIn, "$nin": NotIn,
}

// ParseOp resolves an operator alias such as "=", "eq" or "$eq".
func ParseOp(s string) (Op, error) {
	if op, ok := opAliases[s]; ok {
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOperator, s)
}

// Node is a predicate tree node. The set of implementations is closed.
type Node interface {
	node()
}

// Logical joins children with and/or.
type Logical struct {
	Logic    Logic
	Children []Node
}

// Comparison compares a field against an argument.
type Comparison struct {
	Field string
	Op    Op
	Arg   any
}

// Regex matches a string field against a pattern.
type Regex struct {
	Field           string
	Pattern         string
	CaseInsensitive bool
}

// Text is a full-text search over the collection's text index.
// An empty Language falls back to the compiler default.
type Text struct {
	Search   string
	Language string
}

func (Logical) node()    {}
func (Comparison) node() {}
func (Regex) node()      {}
func (Text) node()       {}

// Fields returns the field names referenced anywhere in the tree, in first-seen order.
func Fields(n Node) []string {
	var (
		out  []string
		seen = map[string]bool{}
		walk func(Node)
	)
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	walk = func(n Node) {
		switch t := n.(type) {
		case Logical:
			for _, c := range t.Children {
				walk(c)
			}
		case Comparison:
			add(t.Field)
		case Regex:
			add(t.Field)
		}
	}
	walk(n)
	return out
}
