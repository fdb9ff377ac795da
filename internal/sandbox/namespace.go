package sandbox

import (
	"fmt"

	"go.starlark.net/starlark"
)

// sentinelModule stands in for a deny-listed module at runtime. Any
// attribute access fails, so code that slips past static validation
// still cannot use the capability.
type sentinelModule struct {
	name string
}

func (s sentinelModule) String() string        { return fmt.Sprintf("<blocked module %s>", s.name) }
func (s sentinelModule) Type() string          { return "blocked_module" }
func (s sentinelModule) Freeze()               {}
func (s sentinelModule) Truth() starlark.Bool  { return starlark.False }
func (s sentinelModule) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: blocked module") }

func (s sentinelModule) Attr(name string) (starlark.Value, error) {
	return nil, fmt.Errorf("access to %s.%s is blocked", s.name, name)
}

func (s sentinelModule) AttrNames() []string { return nil }

// basePredeclared builds the names visible to every snippet beyond the
// Starlark universe. Deny-listed module names resolve to sentinels.
func basePredeclared() starlark.StringDict {
	dict := starlark.StringDict{}
	for name := range deniedModules {
		dict[name] = sentinelModule{name: name}
	}
	return dict
}

// loadBlocked refuses every load() at runtime. Static validation names
// deny-listed modules precisely; everything else gets a generic
// refusal here.
func loadBlocked(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	if deniedModules[module] {
		return nil, fmt.Errorf("import of %q is blocked", module)
	}
	return nil, fmt.Errorf("module %q is not available", module)
}
