package filter

import (
	"bytes"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jacentio/grove/store"
)

// class is the cross-type ordering used for sorting, lowest first.
type class int

const (
	classNull class = iota
	classNumber
	classString
	classObject
	classArray
	classObjectID
	classBool
	classDate
	classOther
)

func classOf(v any) class {
	switch v.(type) {
	case nil:
		return classNull
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return classNumber
	case string:
		return classString
	case map[string]any, store.Document, bson.M, bson.D:
		return classObject
	case []any, bson.A, []string:
		return classArray
	case primitive.ObjectID:
		return classObjectID
	case bool:
		return classBool
	case time.Time, primitive.DateTime:
		return classDate
	}
	return classOther
}

func number(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	}
	return 0
}

func date(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case primitive.DateTime:
		return t.Time()
	}
	return time.Time{}
}

// Comparable reports whether a and b can be ordered by range operators.
func Comparable(a, b any) bool {
	ca, cb := classOf(a), classOf(b)
	return ca == cb && ca != classObject && ca != classArray && ca != classOther
}

// Compare orders two values. Values of different types are ordered by type class.
func Compare(a, b any) int {
	ca, cb := classOf(a), classOf(b)
	if ca != cb {
		return cmpInt(int(ca), int(cb))
	}
	switch ca {
	case classNumber:
		x, y := number(a), number(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case classString:
		return strings.Compare(a.(string), b.(string))
	case classObjectID:
		x, y := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return bytes.Compare(x[:], y[:])
	case classBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case classDate:
		return date(a).Compare(date(b))
	case classArray:
		x, y := items(a), items(b)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(x), len(y))
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Equal reports value equality with numeric and date normalization.
func Equal(a, b any) bool {
	ca, cb := classOf(a), classOf(b)
	if ca != cb {
		return false
	}
	switch ca {
	case classNull:
		return true
	case classNumber, classString, classObjectID, classBool, classDate:
		return Compare(a, b) == 0
	case classArray:
		x, y := items(a), items(b)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case classObject:
		x, y := object(a), object(b)
		if len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func items(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case bson.A:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return nil
}

func object(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case store.Document:
		return t
	case bson.M:
		return t
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = e.Value
		}
		return m
	}
	return nil
}

// Sort orders docs in place by the sort fields. Missing fields sort as null.
func Sort(docs []store.Document, fields []store.SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			a, _ := Lookup(docs[i], f.Field)
			b, _ := Lookup(docs[j], f.Field)
			c := Compare(first(a), first(b))
			if c == 0 {
				continue
			}
			if f.Direction == store.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func first(vs []any) any {
	if len(vs) == 0 {
		return nil
	}
	return vs[0]
}
