package querybus

import (
	"fmt"
	"reflect"
)

// ResponseType describes the shape of a query's expected result: a single
// value, an optional value, or a list of values of some element type.
//
// It fills two roles. During routing it decides which registered handlers
// are compatible with a query (Matches). After a handler answers it coerces
// the raw result into the requested shape (Convert).
//
// Construct response types with InstanceOf, OptionalInstanceOf, or
// MultipleInstancesOf. The element type is captured once at construction;
// no reflection happens per dispatch beyond assignability checks against
// the captured type.
type ResponseType interface {
	// Matches reports whether a handler declaring candidate as its output
	// shape can serve this expected shape.
	Matches(candidate ResponseType) bool

	// Convert coerces a raw handler result into the requested shape.
	Convert(raw any) (any, error)

	// String describes the shape, e.g. "single<main.User>".
	String() string
}

type cardinality int

const (
	cardSingle cardinality = iota
	cardOptional
	cardMultiple
)

type responseType struct {
	card cardinality
	elem reflect.Type
}

// InstanceOf declares an expected response of exactly one T. A nil result
// from a handler is a conversion failure.
func InstanceOf[T any]() ResponseType {
	return responseType{card: cardSingle, elem: typeOf[T]()}
}

// OptionalInstanceOf declares an expected response of zero or one T. A nil
// result converts to a typed zero value.
func OptionalInstanceOf[T any]() ResponseType {
	return responseType{card: cardOptional, elem: typeOf[T]()}
}

// MultipleInstancesOf declares an expected response of a slice of T. Only
// handlers declaring a multiple shape with an assignable element type match.
func MultipleInstancesOf[T any]() ResponseType {
	return responseType{card: cardMultiple, elem: typeOf[T]()}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (r responseType) Matches(candidate ResponseType) bool {
	c, ok := candidate.(responseType)
	if !ok {
		return false
	}
	// Single and optional shapes are interchangeable on the handler side;
	// a list is only served by a handler declaring a list.
	if (r.card == cardMultiple) != (c.card == cardMultiple) {
		return false
	}
	return assignable(c.elem, r.elem)
}

// assignable reports whether a value of type from can serve as type to.
func assignable(from, to reflect.Type) bool {
	if from.AssignableTo(to) {
		return true
	}
	return to.Kind() == reflect.Interface && from.Implements(to)
}

func (r responseType) Convert(raw any) (any, error) {
	switch r.card {
	case cardMultiple:
		return r.convertSlice(raw)
	case cardOptional:
		if raw == nil {
			return reflect.Zero(r.elem).Interface(), nil
		}
	default:
		if raw == nil {
			return nil, fmt.Errorf("querybus: handler returned nil for %s", r)
		}
	}
	v := reflect.ValueOf(raw)
	if !assignable(v.Type(), r.elem) {
		return nil, fmt.Errorf("querybus: cannot convert %T to %s", raw, r)
	}
	return raw, nil
}

func (r responseType) convertSlice(raw any) (any, error) {
	sliceType := reflect.SliceOf(r.elem)
	if raw == nil {
		return reflect.MakeSlice(sliceType, 0, 0).Interface(), nil
	}
	v := reflect.ValueOf(raw)
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("querybus: cannot convert %T to %s", raw, r)
	}
	if v.Type().AssignableTo(sliceType) {
		return raw, nil
	}
	// Element-wise conversion, e.g. []any holding assignable values.
	out := reflect.MakeSlice(sliceType, v.Len(), v.Len())
	for i := 0; i < v.Len(); i++ {
		e := v.Index(i)
		if e.Kind() == reflect.Interface {
			e = e.Elem()
		}
		if !e.IsValid() || !assignable(e.Type(), r.elem) {
			return nil, fmt.Errorf("querybus: cannot convert element %d of %T to %s", i, raw, r)
		}
		out.Index(i).Set(e.Convert(r.elem))
	}
	return out.Interface(), nil
}

func (r responseType) String() string {
	switch r.card {
	case cardOptional:
		return "optional<" + r.elem.String() + ">"
	case cardMultiple:
		return "list<" + r.elem.String() + ">"
	default:
		return "single<" + r.elem.String() + ">"
	}
}
