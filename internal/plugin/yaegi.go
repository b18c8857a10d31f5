// yaegi.go interprets a validated plugin source file in a sandboxed yaegi
// instance restricted to an import allow-list, grounded on
// theRebelliousNerd-codenerd's YaegiExecutor: interpreting instead of
// `go build`-ing untrusted code sidesteps compile hangs and crashes, and
// the allow-list keeps a plugin from reaching os/exec, raw net, or unsafe
// even though it is loaded as live Go source.
package plugin

import (
	"fmt"
	"go/parser"
	"go/token"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// allowedImports mirrors YaegiExecutor.allowedPackages: packages with no
// filesystem, network, or process-control surface.
var allowedImports = map[string]bool{
	"fmt":           true,
	"strings":       true,
	"strconv":       true,
	"encoding/json": true,
	"time":          true,
	"regexp":        true,
	"sort":          true,
}

// hookNames are the optional top-level functions a plugin file may define.
// Each is resolved independently; a plugin needs none, some, or all of
// them.
const (
	hookBeforeCommand = "BeforeCommand"
	hookAfterCommand  = "AfterCommand"
	hookOnError       = "OnError"
	hookOnNavigate    = "OnNavigate"
	hookOnSnapshot    = "OnSnapshot"
)

type hookSet struct {
	beforeCommand func(cmd string, args map[string]any) (bool, string)
	afterCommand  func(cmd string, args map[string]any, result any)
	onError       func(cmd string, args map[string]any, errMsg string)
	onNavigate    func(url string)
	onSnapshot    func(snapshot string)
}

// validateImports rejects any import not on the allow-list, using the Go
// parser rather than line-scanning so aliased and grouped imports are
// caught correctly.
func validateImports(source string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "plugin.go", source, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("parse plugin source: %w", err)
	}
	for _, imp := range f.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if !allowedImports[path] {
			return fmt.Errorf("import %q is not permitted in plugin code", path)
		}
	}
	return nil
}

// loadHooks interprets source and resolves whichever hook functions it
// defines. Unresolved hooks are left nil rather than erroring — a plugin
// implementing only OnNavigate is valid.
func loadHooks(source string) (*hookSet, error) {
	if err := validateImports(source); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}

	if _, err := i.Eval(source); err != nil {
		return nil, fmt.Errorf("evaluate plugin source: %w", err)
	}

	hooks := &hookSet{}
	if fn, ok := evalFunc[func(string, map[string]any) (bool, string)](i, hookBeforeCommand); ok {
		hooks.beforeCommand = fn
	}
	if fn, ok := evalFunc[func(string, map[string]any, any)](i, hookAfterCommand); ok {
		hooks.afterCommand = fn
	}
	if fn, ok := evalFunc[func(string, map[string]any, string)](i, hookOnError); ok {
		hooks.onError = fn
	}
	if fn, ok := evalFunc[func(string)](i, hookOnNavigate); ok {
		hooks.onNavigate = fn
	}
	if fn, ok := evalFunc[func(string)](i, hookOnSnapshot); ok {
		hooks.onSnapshot = fn
	}
	return hooks, nil
}

func evalFunc[T any](i *interp.Interpreter, name string) (T, bool) {
	var zero T
	v, err := i.Eval("main." + name)
	if err != nil {
		return zero, false
	}
	fn, ok := v.Interface().(T)
	if !ok {
		return zero, false
	}
	return fn, true
}
