package sandbox

import (
	"fmt"

	"go.starlark.net/syntax"

	pkgerrors "github.com/rekurlabs/rekur/internal/errors"
)

// deniedModules name capability surfaces a snippet must never reach:
// process control, filesystem, network, reflection and serialization
// primitives. Both load() targets and dotted calls are checked.
var deniedModules = map[string]bool{
	"os":         true,
	"sys":        true,
	"subprocess": true,
	"process":    true,
	"shutil":     true,
	"pathlib":    true,
	"io":         true,
	"socket":     true,
	"net":        true,
	"http":       true,
	"requests":   true,
	"urllib":     true,
	"ctypes":     true,
	"inspect":    true,
	"importlib":  true,
	"reflect":    true,
	"pickle":     true,
	"marshal":    true,
	"shelve":     true,
}

// deniedFunctions are bare calls that escape the namespace: dynamic
// code execution, raw file or process access, interpreter control.
var deniedFunctions = map[string]bool{
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"open":       true,
	"input":      true,
	"exit":       true,
	"quit":       true,
	"__import__": true,
	"getattr":    true,
	"setattr":    true,
	"delattr":    true,
	"globals":    true,
	"locals":     true,
}

// builtinsNames are identifiers whose attribute or subscript access is
// rejected outright, closing the lookup-table route around the
// function deny-list.
var builtinsNames = map[string]bool{
	"builtins":     true,
	"__builtins__": true,
}

func fileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
}

// Validate statically checks a snippet before any of it runs. The
// returned error names the first offending construct.
func Validate(code string) error {
	f, err := fileOptions().Parse("snippet", code, 0)
	if err != nil {
		return pkgerrors.ValidationRejected(fmt.Sprintf("parse failed: %v", err))
	}

	var violation error
	for _, stmt := range f.Stmts {
		syntax.Walk(stmt, func(n syntax.Node) bool {
			if violation != nil {
				return false
			}
			switch node := n.(type) {
			case *syntax.LoadStmt:
				name := node.ModuleName()
				if deniedModules[name] {
					violation = pkgerrors.ValidationRejected(
						fmt.Sprintf("import of %q is blocked", name))
				}
			case *syntax.CallExpr:
				switch fn := node.Fn.(type) {
				case *syntax.Ident:
					if deniedFunctions[fn.Name] {
						violation = pkgerrors.ValidationRejected(
							fmt.Sprintf("call to %q is blocked", fn.Name))
					}
				case *syntax.DotExpr:
					if ident, ok := fn.X.(*syntax.Ident); ok && deniedModules[ident.Name] {
						violation = pkgerrors.ValidationRejected(
							fmt.Sprintf("call to %s.%s is blocked", ident.Name, fn.Name.Name))
					}
				}
			case *syntax.DotExpr:
				if ident, ok := node.X.(*syntax.Ident); ok && builtinsNames[ident.Name] {
					violation = pkgerrors.ValidationRejected(
						fmt.Sprintf("attribute access on %q is blocked", ident.Name))
				}
			case *syntax.IndexExpr:
				if ident, ok := node.X.(*syntax.Ident); ok && builtinsNames[ident.Name] {
					violation = pkgerrors.ValidationRejected(
						fmt.Sprintf("subscript access on %q is blocked", ident.Name))
				}
			}
			return true
		})
		if violation != nil {
			return violation
		}
	}
	return nil
}
