package sandbox

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// snapshotDepthLimit caps recursion into containers so cyclic or
// pathologically deep values cannot blow the snapshot.
const snapshotDepthLimit = 8

// snapshot reduces the globals a snippet left behind to JSON-safe Go
// values. Scaffold bindings and underscore-prefixed names are skipped.
func snapshot(globals starlark.StringDict, exclude map[string]bool) map[string]any {
	out := make(map[string]any, len(globals))
	for name, value := range globals {
		if exclude[name] || strings.HasPrefix(name, "_") {
			continue
		}
		out[name] = reduceValue(value, 0)
	}
	return out
}

func reduceValue(v starlark.Value, depth int) any {
	if depth > snapshotDepthLimit {
		return fmt.Sprintf("<%s>", v.Type())
	}
	switch val := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(val)
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i
		}
		return val.String()
	case starlark.Float:
		return float64(val)
	case starlark.String:
		return string(val)
	case *starlark.List:
		items := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			items = append(items, reduceValue(val.Index(i), depth+1))
		}
		return items
	case starlark.Tuple:
		items := make([]any, 0, len(val))
		for _, item := range val {
			items = append(items, reduceValue(item, depth+1))
		}
		return items
	case *starlark.Dict:
		entries := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key := item[0]
			ks, ok := starlark.AsString(key)
			if !ok {
				ks = key.String()
			}
			entries[ks] = reduceValue(item[1], depth+1)
		}
		return entries
	default:
		// Functions, sets and opaque values reduce to a type tag.
		return fmt.Sprintf("<%s>", v.Type())
	}
}

// toStarlark converts a decoded JSON-ish Go value into its Starlark
// counterpart for binding into the namespace.
func toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		items := make([]starlark.Value, 0, len(val))
		for _, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			items = append(items, sv)
		}
		return starlark.NewList(items), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for key, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(key), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported context value type %T", v)
	}
}

// renderValue formats a namespace value as a plain string for terminal
// answers. Strings come back raw, everything else in display form.
func renderValue(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
