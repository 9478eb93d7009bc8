package starbind

import (
	"fmt"
	"reflect"

	"github.com/holiman/uint256"
	"go.starlark.net/starlark"
)

var starlarkValueType = reflect.TypeOf((*starlark.Value)(nil)).Elem()

// toStarlark converts a value returned by the engine. Slices become frozen
// lists and structs expose their fields as attributes.
func (env *Env) toStarlark(v interface{}) starlark.Value {
	switch v := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return v
	case uint64:
		return starlark.MakeUint64(v)
	case uint32:
		return starlark.MakeUint64(uint64(v))
	case int:
		return starlark.MakeInt(v)
	case int64:
		return starlark.MakeInt64(v)
	case bool:
		return starlark.Bool(v)
	case string:
		return starlark.String(v)
	case []byte:
		return starlark.Bytes(v)
	case *uint256.Int:
		if v == nil {
			return starlark.None
		}
		return starlark.MakeBigInt(v.ToBig())
	case error:
		return starlark.String(v.Error())
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return starlark.None
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return structValue{rv, env}
	case reflect.Slice:
		elems := make([]starlark.Value, rv.Len())
		for i := range elems {
			elems[i] = env.toStarlark(rv.Index(i).Interface())
		}
		l := starlark.NewList(elems)
		l.Freeze()
		return l
	case reflect.Uint, reflect.Uint8, reflect.Uint16:
		return starlark.MakeUint64(rv.Uint())
	}
	return starlark.String(fmt.Sprintf("%v", v))
}

// structValue is a read only view of a Go struct.
type structValue struct {
	v   reflect.Value
	env *Env
}

var _ starlark.HasAttrs = structValue{}

func (v structValue) Freeze()               {}
func (v structValue) Truth() starlark.Bool  { return true }
func (v structValue) Type() string          { return v.v.Type().String() }
func (v structValue) String() string        { return fmt.Sprintf("%+v", v.v.Interface()) }
func (v structValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: %s", v.Type()) }

func (v structValue) Attr(name string) (starlark.Value, error) {
	f, ok := v.v.Type().FieldByName(name)
	if !ok || f.PkgPath != "" {
		return nil, nil
	}
	return v.env.toStarlark(v.v.FieldByIndex(f.Index).Interface()), nil
}

func (v structValue) AttrNames() []string {
	typ := v.v.Type()
	r := make([]string, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).PkgPath == "" {
			r = append(r, typ.Field(i).Name)
		}
	}
	return r
}

// unpackArgs fills the fields of the struct pointed to by dst, in
// declaration order from args and by field name from kwargs. None leaves
// a field at its zero value.
func unpackArgs(args starlark.Tuple, kwargs []starlark.Tuple, dst interface{}) error {
	rv := reflect.ValueOf(dst).Elem()
	typ := rv.Type()
	if len(args) > typ.NumField() {
		return fmt.Errorf("too many arguments, expected at most %d", typ.NumField())
	}
	for i := range args {
		if err := setArg(rv.Field(i), args[i], typ.Field(i).Name); err != nil {
			return err
		}
	}
	for _, kv := range kwargs {
		name, _ := starlark.AsString(kv[0])
		f, ok := typ.FieldByName(name)
		if !ok {
			return fmt.Errorf("unknown argument %q", name)
		}
		if err := setArg(rv.FieldByIndex(f.Index), kv[1], name); err != nil {
			return err
		}
	}
	return nil
}

// setArg converts val to the type of dst. Negative integers stored in
// unsigned fields wrap around like they do in expressions.
func setArg(dst reflect.Value, val starlark.Value, name string) error {
	if val == starlark.None {
		return nil
	}
	if dst.Type() == starlarkValueType {
		dst.Set(reflect.ValueOf(&val).Elem())
		return nil
	}
	converr := fmt.Errorf("argument %s: can not convert %s %s to %s", name, val.Type(), val, dst.Type())

	switch dst.Kind() {
	case reflect.Bool:
		b, ok := val.(starlark.Bool)
		if !ok {
			return converr
		}
		dst.SetBool(bool(b))
	case reflect.String:
		s, ok := val.(starlark.String)
		if !ok {
			return converr
		}
		dst.SetString(string(s))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := val.(starlark.Int)
		if !ok {
			return converr
		}
		u, ok := n.Uint64()
		if !ok {
			i, ok := n.Int64()
			if !ok {
				return converr
			}
			u = uint64(i)
		}
		if dst.OverflowUint(u) {
			return converr
		}
		dst.SetUint(u)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := val.(starlark.Int)
		if !ok {
			return converr
		}
		i, ok := n.Int64()
		if !ok || dst.OverflowInt(i) {
			return converr
		}
		dst.SetInt(i)
	case reflect.Slice:
		seq, ok := val.(starlark.Indexable)
		if !ok {
			return converr
		}
		r := reflect.MakeSlice(dst.Type(), seq.Len(), seq.Len())
		for i := 0; i < seq.Len(); i++ {
			if err := setArg(r.Index(i), seq.Index(i), fmt.Sprintf("%s[%d]", name, i)); err != nil {
				return err
			}
		}
		dst.Set(r)
	default:
		return converr
	}
	return nil
}
