// Package field implements typed, self-validating value containers.
//
// A field owns exactly one value. Every mutation goes through coercion and
// validation for the field's kind, so a field never holds a value outside its
// domain. Fields keep the previously stored value and a modified flag which the
// owning entity uses to decide whether a save is needed.
//
// Fields are declared with a Spec and built with New:
//
//	f, err := field.New(field.Spec{Name: "tags", Kind: field.KindList, Elem: field.KindString, Unique: true})
//	_ = f.Add("go")
//	_ = f.Add("go") // no-op, the list is unique
//
// Values cross the storage boundary through StorableValue and
// SetStorableValue. The storable form only contains strings, int64, float64,
// bool, time.Time, primitive.ObjectID, []any, map[string]any and nil, which
// every store backend can round-trip.
//
// Ref and RefList store references as "model:id" strings and resolve them
// through a Resolver bound by the owning registry.
package field
