package etlz

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// Row is one record produced by a tabular reader. Lookup by column
// name and by ordinal are both supported; Get's second return
// distinguishes an absent column from a present nil.
type Row interface {
	Get(name string) (any, bool)
	Index(i int) (any, bool)
	Columns() []string
}

// MapRow is a slice-backed Row: column names and values share an
// index. Construct with NewMapRow; lookups are case-sensitive.
type MapRow struct {
	columns []string
	values  []any
	byName  map[string]int
}

// NewMapRow builds a row from parallel column and value slices.
// Panics when the lengths differ; that is a reader bug, not data.
func NewMapRow(columns []string, values []any) *MapRow {
	if len(columns) != len(values) {
		panic(fmt.Sprintf("etlz: NewMapRow column/value length mismatch: %d vs %d", len(columns), len(values)))
	}
	byName := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := byName[c]; !dup {
			byName[c] = i
		}
	}
	return &MapRow{columns: columns, values: values, byName: byName}
}

func (r *MapRow) Get(name string) (any, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

func (r *MapRow) Index(i int) (any, bool) {
	if i < 0 || i >= len(r.values) {
		return nil, false
	}
	return r.values[i], true
}

func (r *MapRow) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// ValueOf reads a column as V. When the column is absent, nil, or not
// a V, the default wins; with no default the zero value is returned.
func ValueOf[V any](row Row, name string, def ...V) V {
	var fallback V
	if len(def) > 0 {
		fallback = def[0]
	}
	raw, ok := row.Get(name)
	if !ok || raw == nil {
		return fallback
	}
	v, ok := raw.(V)
	if !ok {
		return fallback
	}
	return v
}

// NamingConvention transforms a struct field name into the column
// name expected in rows, for fields without an explicit tag.
type NamingConvention int

const (
	NameAsIs NamingConvention = iota
	NameLower
	NameUpper
	NameCamel
	NameSnake
	NamePascal
)

func (n NamingConvention) apply(field string) string {
	switch n {
	case NameLower:
		return strings.ToLower(field)
	case NameUpper:
		return strings.ToUpper(field)
	case NameCamel:
		words := splitWords(field)
		for i, w := range words {
			if i == 0 {
				words[i] = strings.ToLower(w)
			} else {
				words[i] = capitalize(w)
			}
		}
		return strings.Join(words, "")
	case NameSnake:
		words := splitWords(field)
		for i, w := range words {
			words[i] = strings.ToLower(w)
		}
		return strings.Join(words, "_")
	case NamePascal:
		words := splitWords(field)
		for i, w := range words {
			words[i] = capitalize(w)
		}
		return strings.Join(words, "")
	default:
		return field
	}
}

// splitWords breaks CamelCase and snake_case names into words,
// keeping acronym runs together (UserID -> [User, ID]).
func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = nil
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-':
			flush()
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				flush()
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

func capitalize(w string) string {
	if w == "" {
		return w
	}
	runes := []rune(strings.ToLower(w))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// MapperOption configures a RowMapper at compile time.
type MapperOption func(*mapperConfig)

type mapperConfig struct {
	convention      NamingConvention
	caseInsensitive bool
}

// WithNaming sets the column naming convention for untagged fields.
func WithNaming(n NamingConvention) MapperOption {
	return func(c *mapperConfig) { c.convention = n }
}

// WithCaseInsensitive makes column matching ignore case.
func WithCaseInsensitive() MapperOption {
	return func(c *mapperConfig) { c.caseInsensitive = true }
}

type mappedColumn struct {
	column string
	index  []int
	typ    reflect.Type
}

// RowMapper maps rows onto values of pointer-to-struct type T. The
// struct is reflected once, at construction; Map itself does no name
// resolution beyond a map lookup per column.
//
// Field selection honors the `etlz` struct tag: `etlz:"col_name"`
// overrides the column name, `etlz:"-"` excludes the field. Untagged
// exported fields map via the configured NamingConvention.
type RowMapper[T any] struct {
	columns         []mappedColumn
	byColumn        map[string]int
	caseInsensitive bool
}

// NewRowMapper compiles the mapper for T, which must be a pointer to
// a struct type.
func NewRowMapper[T any](opts ...MapperOption) (*RowMapper[T], error) {
	cfg := mapperConfig{convention: NameAsIs}
	for _, opt := range opts {
		opt(&cfg)
	}

	pt := reflect.TypeFor[T]()
	if pt.Kind() != reflect.Ptr || pt.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("row mapper requires a pointer-to-struct type, got %s", pt)
	}
	st := pt.Elem()

	m := &RowMapper[T]{
		byColumn:        make(map[string]int),
		caseInsensitive: cfg.caseInsensitive,
	}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		column := cfg.convention.apply(f.Name)
		if tag, ok := f.Tag.Lookup("etlz"); ok {
			if tag == "-" {
				continue
			}
			if name, _, _ := strings.Cut(tag, ","); name != "" {
				column = name
			}
		}
		key := column
		if cfg.caseInsensitive {
			key = strings.ToLower(key)
		}
		if prev, dup := m.byColumn[key]; dup {
			return nil, fmt.Errorf("row mapper for %s: column %q claimed by both %s and %s",
				st, column, st.Field(m.columns[prev].index[0]).Name, f.Name)
		}
		m.byColumn[key] = len(m.columns)
		m.columns = append(m.columns, mappedColumn{column: column, index: f.Index, typ: f.Type})
	}
	return m, nil
}

// MustNewRowMapper is NewRowMapper panicking on error.
func MustNewRowMapper[T any](opts ...MapperOption) *RowMapper[T] {
	m, err := NewRowMapper[T](opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Columns returns the column names the mapper binds, in field order.
func (m *RowMapper[T]) Columns() []string {
	out := make([]string, len(m.columns))
	for i, c := range m.columns {
		out[i] = c.column
	}
	return out
}

// Map assigns the row's values onto a freshly allocated T. Columns
// absent from the row leave the field at its zero value; a present
// value of the wrong type is an error naming the column.
func (m *RowMapper[T]) Map(row Row) (T, error) {
	var zero T
	pt := reflect.TypeFor[T]()
	pv := reflect.New(pt.Elem())
	item, _ := pv.Interface().(T)

	if err := m.MapInto(row, item); err != nil {
		return zero, err
	}
	return item, nil
}

// MapInto assigns the row's values onto an existing item, leaving
// unmatched fields untouched.
func (m *RowMapper[T]) MapInto(row Row, item T) error {
	rv := reflect.ValueOf(item)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("row mapper target must be a non-nil pointer")
	}
	sv := rv.Elem()

	for _, name := range row.Columns() {
		key := name
		if m.caseInsensitive {
			key = strings.ToLower(key)
		}
		ci, ok := m.byColumn[key]
		if !ok {
			continue
		}
		raw, ok := row.Get(name)
		if !ok || raw == nil {
			continue
		}
		col := m.columns[ci]
		val := reflect.ValueOf(raw)
		if !val.Type().AssignableTo(col.typ) {
			if val.Type().ConvertibleTo(col.typ) && convertible(val.Type(), col.typ) {
				val = val.Convert(col.typ)
			} else {
				return fmt.Errorf("column %q: cannot assign %T to field type %s", name, raw, col.typ)
			}
		}
		sv.FieldByIndex(col.index).Set(val)
	}
	return nil
}

// convertible limits implicit conversions to numeric widening and
// string/[]byte, so e.g. int64 columns fill int fields but a float
// never silently truncates into an int.
func convertible(from, to reflect.Type) bool {
	fk, tk := from.Kind(), to.Kind()
	switch {
	case isInt(fk) && isInt(tk):
		return true
	case isFloat(fk) && isFloat(tk):
		return true
	case isInt(fk) && isFloat(tk):
		return true
	case fk == reflect.String && to == reflect.TypeOf([]byte(nil)):
		return true
	case from == reflect.TypeOf([]byte(nil)) && tk == reflect.String:
		return true
	}
	return false
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
