package message

import (
	"reflect"
	"sync"
)

// typeNameCache caches reflection results for type name lookups.
// Key is reflect.Type, value is the type name string.
var typeNameCache sync.Map

// TypeNameOf returns the message type name for an instance: the bare
// struct name, with pointers dereferenced. Results are cached to avoid
// repeated reflection overhead.
func TypeNameOf(msg any) string {
	t := reflect.TypeOf(msg)
	if t == nil {
		return ""
	}

	if name, ok := typeNameCache.Load(t); ok {
		return name.(string)
	}

	original := t
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	var name string
	if t.Name() != "" {
		name = t.Name()
	} else {
		name = t.String()
	}

	typeNameCache.Store(original, name)
	return name
}
