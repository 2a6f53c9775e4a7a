package port

import (
	"fmt"
	"reflect"
)

// Clone copies v the way a port hands values to the other side.
//
// Strings, numbers, booleans and other plain values are immutable in transit and
// pass through. Slices, arrays, maps, structs and pointers are deep copied. A *Buffer is
// copied unless it appears in opts.Transfer, in which case the clone takes its bytes
// and the origin is detached. Functions, channels and unsafe pointers cannot cross
// a port. Nothing is detached when Clone fails.
func Clone(v any, opts *TransferOptions) (any, error) {
	c := &cloner{
		moved:    make(map[*Buffer]*Buffer),
		copies:   make(map[*Buffer]*Buffer),
		pointers: make(map[ptrKey]reflect.Value),
	}
	if opts != nil {
		for _, b := range opts.Transfer {
			if b == nil {
				return nil, fmt.Errorf("%w: nil buffer in transfer list", ErrDataClone)
			}
			if _, dup := c.moved[b]; dup {
				return nil, fmt.Errorf("%w: buffer listed twice in transfer list", ErrDataClone)
			}
			if b.Detached() {
				return nil, fmt.Errorf("%w: buffer in transfer list is already detached", ErrDataClone)
			}
			c.moved[b] = &Buffer{}
		}
	}

	out, err := c.clone(v)
	if err != nil {
		return nil, err
	}

	for origin, dst := range c.moved {
		dst.data = origin.Detach()
	}
	return out, nil
}

type cloner struct {
	moved    map[*Buffer]*Buffer
	copies   map[*Buffer]*Buffer
	pointers map[ptrKey]reflect.Value
}

func (c *cloner) clone(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, error,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, complex64, complex128:
		return v, nil
	case []byte:
		if t == nil {
			return t, nil
		}
		return append([]byte(nil), t...), nil
	case *Buffer:
		if t == nil {
			return t, nil
		}
		if dst, ok := c.moved[t]; ok {
			return dst, nil
		}
		if dst, ok := c.copies[t]; ok {
			return dst, nil
		}
		dst := t.clone()
		c.copies[t] = dst
		return dst, nil
	case []any:
		if t == nil {
			return t, nil
		}
		out := make([]any, len(t))
		for i, elem := range t {
			cloned, err := c.clone(elem)
			if err != nil {
				return nil, err
			}
			out[i] = cloned
		}
		return out, nil
	case map[string]any:
		if t == nil {
			return t, nil
		}
		out := make(map[string]any, len(t))
		for k, elem := range t {
			cloned, err := c.clone(elem)
			if err != nil {
				return nil, err
			}
			out[k] = cloned
		}
		return out, nil
	}

	out, err := c.cloneValue(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

var bufferType = reflect.TypeOf((*Buffer)(nil))

type ptrKey struct {
	ptr uintptr
	typ reflect.Type
}

// cloneValue deep copies typed slices, arrays, maps, structs and pointers so that
// buffers nested anywhere inside are swapped for their moved or copied versions.
func (c *cloner) cloneValue(v reflect.Value) (reflect.Value, error) {
	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrDataClone, v.Type())

	case reflect.Interface:
		if v.IsNil() {
			return v, nil
		}
		elem, err := c.clone(v.Elem().Interface())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(reflect.ValueOf(elem))
		return out, nil

	case reflect.Pointer:
		if v.IsNil() {
			return v, nil
		}
		if v.Type() == bufferType {
			b, err := c.clone(v.Interface())
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(b), nil
		}
		key := ptrKey{v.Pointer(), v.Type()}
		if dst, ok := c.pointers[key]; ok {
			return dst, nil
		}
		dst := reflect.New(v.Type().Elem())
		c.pointers[key] = dst
		elem, err := c.cloneValue(v.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		dst.Elem().Set(elem)
		return dst, nil

	case reflect.Slice:
		if v.IsNil() {
			return v, nil
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		if v.Type().Elem().Kind() == reflect.Uint8 {
			reflect.Copy(out, v)
			return out, nil
		}
		for i := 0; i < v.Len(); i++ {
			elem, err := c.cloneValue(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(elem)
		}
		return out, nil

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			elem, err := c.cloneValue(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(elem)
		}
		return out, nil

	case reflect.Map:
		if v.IsNil() {
			return v, nil
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key, err := c.cloneValue(iter.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			elem, err := c.cloneValue(iter.Value())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(key, elem)
		}
		return out, nil

	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				// Unexported fields are copied as they are; they must not hide a buffer.
				if holdsBuffer(v.Field(i), make(map[ptrKey]bool)) {
					return reflect.Value{}, fmt.Errorf("%w: buffer in unexported field %s.%s",
						ErrDataClone, v.Type(), v.Type().Field(i).Name)
				}
				continue
			}
			field, err := c.cloneValue(v.Field(i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Field(i).Set(field)
		}
		return out, nil

	default:
		return v, nil
	}
}

// holdsBuffer reports whether a *Buffer is reachable from v.
func holdsBuffer(v reflect.Value, seen map[ptrKey]bool) bool {
	switch v.Kind() {
	case reflect.Interface:
		return !v.IsNil() && holdsBuffer(v.Elem(), seen)
	case reflect.Pointer:
		if v.IsNil() {
			return false
		}
		if v.Type() == bufferType {
			return true
		}
		key := ptrKey{v.Pointer(), v.Type()}
		if seen[key] {
			return false
		}
		seen[key] = true
		return holdsBuffer(v.Elem(), seen)
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return false
		}
		for i := 0; i < v.Len(); i++ {
			if holdsBuffer(v.Index(i), seen) {
				return true
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if holdsBuffer(iter.Key(), seen) || holdsBuffer(iter.Value(), seen) {
				return true
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if holdsBuffer(v.Field(i), seen) {
				return true
			}
		}
	}
	return false
}
