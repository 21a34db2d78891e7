// Package sanitize renders arbitrary Go values as plain JSON data before they
// reach a record store backend. Both backends receive the same shape.
package sanitize

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
)

// maxSafeInt is the largest integer a float64 represents exactly.
const maxSafeInt = 1 << 53

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Value returns the plain-data rendering of v: map[string]any, []any,
// string, float64, bool or nil.
//
// Function and channel values and nil pointers or interfaces are stripped
// from maps, structs and slices. Values with no plain-data rendering fail
// with a Serialization error instead of being dropped.
func Value(v any) (any, error) {
	w := walker{seen: map[visit]bool{}}
	out, keep, err := w.walk(reflect.ValueOf(v), "$")
	if err != nil {
		return nil, err
	}
	if !keep {
		return nil, nil
	}
	return out, nil
}

// Document sanitizes a record that must render as a JSON object.
func Document(v any) (model.Document, error) {
	out, err := Value(v)
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, pdterrors.NewSerializationError("$", "record renders as %T, want object", out)
	}
	return model.Document(m), nil
}

// visit keys a reference on the current path. A struct and its first
// field share an address, so the type is part of the key.
type visit struct {
	addr uintptr
	typ  reflect.Type
}

type walker struct {
	// seen holds pointers/maps/slices on the current path for cycle detection.
	seen map[visit]bool
}

// walk returns the rendered value and whether it should be kept at all.
func (w *walker) walk(v reflect.Value, path string) (any, bool, error) {
	if !v.IsValid() {
		return nil, false, nil
	}

	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, false, nil
	case reflect.Interface:
		if v.IsNil() {
			return nil, false, nil
		}
		return w.walk(v.Elem(), path)
	case reflect.Pointer:
		if v.IsNil() {
			return nil, false, nil
		}
	}

	if out, keep, handled, err := w.marshaler(v, path); handled {
		return out, keep, err
	}

	switch v.Kind() {
	case reflect.Pointer:
		ptr := visit{v.Pointer(), v.Type()}
		if w.seen[ptr] {
			return nil, false, pdterrors.NewSerializationError(path, "cyclic reference")
		}
		w.seen[ptr] = true
		defer delete(w.seen, ptr)
		return w.walk(v.Elem(), path)

	case reflect.Bool:
		return v.Bool(), true, nil

	case reflect.String:
		return v.String(), true, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n > maxSafeInt || n < -maxSafeInt {
			return nil, false, pdterrors.NewSerializationError(path, "integer %d exceeds exact float range", n)
		}
		return float64(n), true, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := v.Uint()
		if n > maxSafeInt {
			return nil, false, pdterrors.NewSerializationError(path, "integer %d exceeds exact float range", n)
		}
		return float64(n), true, nil

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false, pdterrors.NewSerializationError(path, "non-finite number %v", f)
		}
		return f, true, nil

	case reflect.Complex64, reflect.Complex128:
		return nil, false, pdterrors.NewSerializationError(path, "complex number has no plain rendering")

	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(v.Bytes()), true, nil
		}
		if v.IsNil() {
			return []any{}, true, nil
		}
		ptr := visit{v.Pointer(), v.Type()}
		if ptr.addr != 0 && v.Len() > 0 {
			if w.seen[ptr] {
				return nil, false, pdterrors.NewSerializationError(path, "cyclic reference")
			}
			w.seen[ptr] = true
			defer delete(w.seen, ptr)
		}
		return w.list(v, path)

	case reflect.Array:
		return w.list(v, path)

	case reflect.Map:
		if v.IsNil() {
			return map[string]any{}, true, nil
		}
		ptr := visit{v.Pointer(), v.Type()}
		if w.seen[ptr] {
			return nil, false, pdterrors.NewSerializationError(path, "cyclic reference")
		}
		w.seen[ptr] = true
		defer delete(w.seen, ptr)
		return w.mapValue(v, path)

	case reflect.Struct:
		return w.structValue(v, path)
	}

	return nil, false, pdterrors.NewSerializationError(path, "unsupported kind %s", v.Kind())
}

// marshaler renders values that define their own JSON or text encoding, such
// as time.Time.
func (w *walker) marshaler(v reflect.Value, path string) (out any, keep, handled bool, err error) {
	if !v.CanInterface() {
		return nil, false, false, nil
	}
	t := v.Type()
	switch {
	case t.Implements(jsonMarshalerType):
		raw, mErr := v.Interface().(json.Marshaler).MarshalJSON()
		if mErr != nil {
			return nil, false, true, pdterrors.NewSerializationError(path, "marshal json: %v", mErr)
		}
		var plain any
		if uErr := json.Unmarshal(raw, &plain); uErr != nil {
			return nil, false, true, pdterrors.NewSerializationError(path, "reparse json: %v", uErr)
		}
		out, keep, err = w.walk(reflect.ValueOf(plain), path)
		return out, keep, true, err
	case t.Implements(textMarshalerType):
		raw, mErr := v.Interface().(encoding.TextMarshaler).MarshalText()
		if mErr != nil {
			return nil, false, true, pdterrors.NewSerializationError(path, "marshal text: %v", mErr)
		}
		return string(raw), true, true, nil
	}
	return nil, false, false, nil
}

func (w *walker) list(v reflect.Value, path string) (any, bool, error) {
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		item, keep, err := w.walk(v.Index(i), path+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return nil, false, err
		}
		if keep {
			out = append(out, item)
		}
	}
	return out, true, nil
}

func (w *walker) mapValue(v reflect.Value, path string) (any, bool, error) {
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key(), path)
		if err != nil {
			return nil, false, err
		}
		item, keep, err := w.walk(iter.Value(), path+"."+key)
		if err != nil {
			return nil, false, err
		}
		if keep {
			out[key] = item
		}
	}
	return out, true, nil
}

func mapKey(k reflect.Value, path string) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if !k.CanInterface() {
		return "", pdterrors.NewSerializationError(path, "unexported map key type %s", k.Type())
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		raw, err := tm.MarshalText()
		if err != nil {
			return "", pdterrors.NewSerializationError(path, "map key: %v", err)
		}
		return string(raw), nil
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", pdterrors.NewSerializationError(path, "unsupported map key type %s", k.Type())
}

func (w *walker) structValue(v reflect.Value, path string) (any, bool, error) {
	out := map[string]any{}
	if err := w.fields(v, path, out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (w *walker) fields(v reflect.Value, path string, out map[string]any) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, omitEmpty, skip := fieldName(f)
		if skip {
			continue
		}
		fv := v.Field(i)

		// untagged embedded structs flatten into the parent, as encoding/json does
		if f.Anonymous && f.Tag.Get("json") == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				if err := w.fields(inner, path, out); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		if omitEmpty && (fv.Kind() == reflect.Slice || fv.Kind() == reflect.Map) && fv.Len() == 0 {
			continue
		}
		item, keep, err := w.walk(fv, path+"."+name)
		if err != nil {
			return err
		}
		if keep {
			out[name] = item
		}
	}
	return nil
}

func fieldName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = f.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}
