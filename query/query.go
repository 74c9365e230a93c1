package query

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Query accumulates predicates into an and-group and an or-group. The compiled
// document holds "$and" and "$or" keys side by side, so both groups must match.
type Query struct {
	and []Node
	or  []Node
}

// Add appends n to the group selected by logic.
func (q *Query) Add(logic Logic, n Node) error {
	switch logic {
	case And:
		q.and = append(q.and, n)
	case Or:
		q.or = append(q.or, n)
	default:
		return ErrInvalidLogic
	}
	return nil
}

// Where resolves string operators and appends a comparison. The aliases
// "regex" and "regex_i" produce a Regex node with the argument as pattern.
func (q *Query) Where(logic, field, op string, arg any) error {
	l, err := ParseLogic(logic)
	if err != nil {
		return err
	}
	switch op {
	case "regex", "$regex", "regex_i", "$regex_i":
		pattern, ok := arg.(string)
		if !ok {
			return ErrInvalidArgument
		}
		return q.Add(l, Regex{Field: field, Pattern: pattern, CaseInsensitive: op == "regex_i" || op == "$regex_i"})
	}
	o, err := ParseOp(op)
	if err != nil {
		return err
	}
	return q.Add(l, Comparison{Field: field, Op: o, Arg: arg})
}

// RemoveField drops every direct predicate on field from the selected group.
func (q *Query) RemoveField(logic Logic, field string) {
	keep := func(nodes []Node) []Node {
		out := nodes[:0]
		for _, n := range nodes {
			switch t := n.(type) {
			case Comparison:
				if t.Field == field {
					continue
				}
			case Regex:
				if t.Field == field {
					continue
				}
			}
			out = append(out, n)
		}
		return out
	}
	switch logic {
	case And:
		q.and = keep(q.and)
	case Or:
		q.or = keep(q.or)
	}
}

// Len returns the number of accumulated predicates.
func (q *Query) Len() int { return len(q.and) + len(q.or) }

// Fields lists the field names used by the query.
func (q *Query) Fields() []string {
	return Fields(Logical{Logic: And, Children: append(append([]Node{}, q.and...), q.or...)})
}

// Clone returns an independent copy of q.
func (q *Query) Clone() *Query {
	return &Query{
		and: append([]Node(nil), q.and...),
		or:  append([]Node(nil), q.or...),
	}
}

// Compile produces the filter document. An empty query compiles to an empty document.
func (q *Query) Compile(c Compiler) (bson.D, error) {
	out := bson.D{}
	for _, g := range []struct {
		logic Logic
		nodes []Node
	}{{And, q.and}, {Or, q.or}} {
		if len(g.nodes) == 0 {
			continue
		}
		d, err := c.Compile(Logical{Logic: g.logic, Children: g.nodes})
		if err != nil {
			return nil, err
		}
		out = append(out, d...)
	}
	return out, nil
}
