package extsort

import "reflect"

// EstimateSize estimates the number of bytes v keeps alive: the shallow
// size of the value plus heap memory owned through strings, slices,
// maps, pointers and interfaces. The estimate is advisory; a shared
// backing array is counted again for every value that refers to it and
// allocator overhead is ignored.
func EstimateSize(v interface{}) int64 {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return 0
	}
	return int64(rv.Type().Size()) + heapSize(rv)
}

// heapSize returns the owned heap memory reachable from v, excluding
// the shallow size of v itself.
func heapSize(v reflect.Value) int64 {
	switch v.Kind() {
	case reflect.String:
		return int64(v.Len())
	case reflect.Slice:
		if v.IsNil() {
			return 0
		}
		n := int64(v.Cap()) * int64(v.Type().Elem().Size())
		for i := 0; i < v.Len(); i++ {
			n += heapSize(v.Index(i))
		}
		return n
	case reflect.Array:
		var n int64
		for i := 0; i < v.Len(); i++ {
			n += heapSize(v.Index(i))
		}
		return n
	case reflect.Ptr:
		if v.IsNil() {
			return 0
		}
		return int64(v.Elem().Type().Size()) + heapSize(v.Elem())
	case reflect.Interface:
		if v.IsNil() {
			return 0
		}
		e := v.Elem()
		return int64(e.Type().Size()) + heapSize(e)
	case reflect.Map:
		if v.IsNil() {
			return 0
		}
		n := int64(v.Len()) * int64(v.Type().Key().Size()+v.Type().Elem().Size())
		for _, k := range v.MapKeys() {
			n += heapSize(k)
			n += heapSize(v.MapIndex(k))
		}
		return n
	case reflect.Struct:
		var n int64
		for i := 0; i < v.NumField(); i++ {
			n += heapSize(v.Field(i))
		}
		return n
	}
	return 0
}
