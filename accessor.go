package etlz

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrNilSelector is returned by FieldOf when no field path is given.
var ErrNilSelector = errors.New("field selector is required")

// Field is a compiled accessor for one mutable slot of a record type.
// It is built once per (owner type, property path) pair, at node
// configuration time, and is then reused across many items and many
// node instances. The path is resolved and validated against the type
// exactly once; Get and Set only walk pre-resolved field indices.
//
// T must be a pointer to a struct so that Set can assign through the
// chain. The path selects a chain of exported fields, possibly nested
// through structs or pointers to structs ("Address.City"). The engine
// does not auto-vivify intermediate objects: a nil link makes Get and
// Set fail with a nil-path error.
type Field[T, V any] struct {
	path  string
	steps []fieldStep
}

type fieldStep struct {
	name  string
	index []int
}

// FieldOf compiles path against the struct behind pointer type T.
// All configuration mistakes are rejected here, never at item time:
// an empty path, an unknown or unexported field, a non-struct
// intermediate link, or a terminal type other than V.
func FieldOf[T, V any](path string) (*Field[T, V], error) {
	if path == "" {
		return nil, ErrNilSelector
	}

	rt := reflect.TypeFor[T]()
	if rt.Kind() != reflect.Pointer || rt.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("owner type %s must be a pointer to a struct", rt)
	}

	segments := strings.Split(path, ".")
	steps := make([]fieldStep, 0, len(segments))
	cur := rt.Elem()
	for i, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("path %q has an empty segment", path)
		}
		sf, ok := cur.FieldByName(seg)
		if !ok {
			return nil, fmt.Errorf("type %s has no field %q", cur, seg)
		}
		if sf.PkgPath != "" {
			return nil, fmt.Errorf("field %q of %s does not have a public setter", seg, cur)
		}
		steps = append(steps, fieldStep{name: seg, index: sf.Index})

		ft := sf.Type
		if i == len(segments)-1 {
			want := reflect.TypeFor[V]()
			if ft != want {
				return nil, fmt.Errorf("field %q of %s is %s, not %s", seg, cur, ft, want)
			}
			break
		}
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() != reflect.Struct {
			return nil, fmt.Errorf("intermediate field %q of %s is not a struct", seg, cur)
		}
		cur = ft
	}

	return &Field[T, V]{path: path, steps: steps}, nil
}

// MustFieldOf is FieldOf that panics on a compile error, for fluent
// node configuration where the path is a compile-time constant.
func MustFieldOf[T, V any](path string) *Field[T, V] {
	f, err := FieldOf[T, V](path)
	if err != nil {
		panic("etlz: " + err.Error())
	}
	return f
}

// Path returns the originating property path string.
func (f *Field[T, V]) Path() string { return f.path }

// Get evaluates the full chain on item. A nil item or nil intermediate
// link yields an error; the chain is never auto-vivified.
func (f *Field[T, V]) Get(item T) (V, error) {
	var zero V
	v, err := f.walk(item, len(f.steps))
	if err != nil {
		return zero, err
	}
	return v.Interface().(V), nil
}

// Set assigns through the chain on item, failing if an intermediate
// link is absent.
func (f *Field[T, V]) Set(item T, value V) error {
	v, err := f.walk(item, len(f.steps))
	if err != nil {
		return err
	}
	v.Set(reflect.ValueOf(&value).Elem())
	return nil
}

func (f *Field[T, V]) walk(item T, depth int) (reflect.Value, error) {
	v := reflect.ValueOf(item)
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return reflect.Value{}, fmt.Errorf("nil owner for path %q", f.path)
	}
	for i := 0; i < depth; i++ {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, fmt.Errorf("nil link before %q in path %q", f.steps[i].name, f.path)
			}
			v = v.Elem()
		}
		fv, err := v.FieldByIndexErr(f.steps[i].index)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("path %q: %w", f.path, err)
		}
		v = fv
	}
	return v, nil
}
