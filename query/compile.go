package query

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/text/language"
)

// Sanitizer converts a finder argument into the form the named field stores.
// It is only consulted for top-level, non-identifier fields.
type Sanitizer func(field string, arg any) (any, error)

// Compiler turns predicate trees into filter documents.
type Compiler struct {
	Sanitize Sanitizer
	// Language is the text-search language used when a Text node sets none.
	Language string
}

// Compile compiles n with the given sanitizer and no default text language.
func Compile(n Node, s Sanitizer) (bson.D, error) {
	return Compiler{Sanitize: s}.Compile(n)
}

// Compile converts n into a filter document. It is pure: the same tree
// always yields the same document.
func (c Compiler) Compile(n Node) (bson.D, error) {
	switch t := n.(type) {
	case nil:
		return bson.D{}, nil
	case Logical:
		if t.Logic != And && t.Logic != Or {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLogic, t.Logic)
		}
		children := make(bson.A, 0, len(t.Children))
		for _, child := range t.Children {
			d, err := c.Compile(child)
			if err != nil {
				return nil, err
			}
			children = append(children, d)
		}
		return bson.D{{Key: string(t.Logic), Value: children}}, nil
	case Comparison:
		return c.comparison(t)
	case Regex:
		cond := bson.D{{Key: "$regex", Value: t.Pattern}}
		if t.CaseInsensitive {
			cond = append(cond, bson.E{Key: "$options", Value: "i"})
		}
		return bson.D{{Key: t.Field, Value: cond}}, nil
	case Text:
		lang := t.Language
		if lang == "" {
			lang = c.Language
		}
		return bson.D{{Key: "$text", Value: bson.D{
			{Key: "$search", Value: t.Search},
			{Key: "$language", Value: TextLanguage(lang)},
		}}}, nil
	}
	return nil, fmt.Errorf("%w: unsupported node %T", ErrInvalidArgument, n)
}

func (c Compiler) comparison(t Comparison) (bson.D, error) {
	if _, ok := opNames[t.Op]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperator, t.Op)
	}
	arg := t.Arg
	if !strings.Contains(t.Field, ".") {
		var err error
		switch {
		case t.Field == "_id":
			arg, err = objectIDs(arg)
		case c.Sanitize != nil:
			arg, err = c.Sanitize(t.Field, arg)
		}
		if err != nil {
			return nil, err
		}
	}
	if t.Op == In || t.Op == NotIn {
		arg = asArray(arg)
	}
	return bson.D{{Key: t.Field, Value: bson.D{{Key: string(t.Op), Value: arg}}}}, nil
}

var opNames = map[Op]struct{}{Eq: {}, Ne: {}, Gt: {}, Gte: {}, Lt: {}, Lte: {}, In: {}, NotIn: {}}

func asArray(v any) bson.A {
	switch t := v.(type) {
	case bson.A:
		return t
	case []any:
		return bson.A(t)
	case []string:
		out := make(bson.A, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []primitive.ObjectID:
		out := make(bson.A, len(t))
		for i, id := range t {
			out[i] = id
		}
		return out
	}
	return bson.A{v}
}

func objectIDs(v any) (any, error) {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t, nil
	case string:
		id, err := primitive.ObjectIDFromHex(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an object id", ErrInvalidArgument, t)
		}
		return id, nil
	case []primitive.ObjectID:
		return asArray(t), nil
	case []string, []any, bson.A:
		items := asArray(t)
		out := make(bson.A, 0, len(items))
		for _, it := range items {
			id, err := objectIDs(it)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T cannot be converted to object id", ErrInvalidArgument, v)
}

// textLanguages maps base language codes to the names document stores use
// for stemming in text indexes.
var textLanguages = map[string]string{
	"da": "danish",
	"de": "german",
	"en": "english",
	"es": "spanish",
	"fi": "finnish",
	"fr": "french",
	"hu": "hungarian",
	"it": "italian",
	"nb": "norwegian",
	"nl": "dutch",
	"no": "norwegian",
	"pt": "portuguese",
	"ro": "romanian",
	"ru": "russian",
	"sv": "swedish",
	"tr": "turkish",
}

// TextLanguage resolves a BCP 47 tag ("en", "en-GB", "ru") to a text-search
// language name. Unknown or empty tags yield "none", which disables stemming.
func TextLanguage(code string) string {
	if code == "" {
		return "none"
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "none"
	}
	base, _ := tag.Base()
	if name, ok := textLanguages[base.String()]; ok {
		return name
	}
	return "none"
}
