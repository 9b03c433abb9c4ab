package thermabridge

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ScriptError is a failure raised by a script run in a Namespace.
type ScriptError struct {
	Name    string
	Message string
}

func (e *ScriptError) Error() string {
	return e.Name + ": " + e.Message
}

// ExceptionName implements the naming hook used when formatting tracebacks.
func (e *ScriptError) ExceptionName() string {
	return e.Name
}

// ScriptFunc runs source code against a Namespace.
type ScriptFunc func(ns *Namespace, code string) error

// NamespaceOption configures a Namespace.
type NamespaceOption func(*Namespace)

// WithExecute replaces the engine used by Execute.
func WithExecute(fn ScriptFunc) NamespaceOption {
	return func(ns *Namespace) { ns.execute = fn }
}

// WithExecuteLine replaces the engine used by ExecuteLine.
func WithExecuteLine(fn ScriptFunc) NamespaceOption {
	return func(ns *Namespace) { ns.executeLine = fn }
}

// WithRestart adds a hook run by Restart after the variables are cleared.
func WithRestart(fn func(ns *Namespace) error) NamespaceOption {
	return func(ns *Namespace) { ns.restart = fn }
}

// WithOutput sets where the print command writes. The default discards output.
func WithOutput(w io.Writer) NamespaceOption {
	return func(ns *Namespace) { ns.out = w }
}

// Namespace is a headless Interpreter: a set of named values plus a small line
// oriented script engine. It serves peers when no real interpreter is attached
// and is the default interpreter of a Session.
//
// The built-in engine understands one command per line:
//
//	name = <yaml value>    bind name, e.g. x = [1, 2.5, "a"]
//	del name               unbind name
//	print <yaml value|name>
//	sleep <duration>       e.g. sleep 250ms
//	raise Name: message    fail with a ScriptError
//
// Blank lines and lines starting with '#' are skipped.
//
// Namespace is safe for concurrent use; scripts run one at a time.
type Namespace struct {
	// mu guards vars and style
	mu    sync.Mutex
	vars  map[string]Value
	style string

	// exec serializes script runs
	exec    sync.Mutex
	running atomic.Int32

	execute     ScriptFunc
	executeLine ScriptFunc
	restart     func(ns *Namespace) error
	out         io.Writer
}

// NewNamespace returns an empty Namespace.
func NewNamespace(opts ...NamespaceOption) *Namespace {
	ns := &Namespace{
		vars:        make(map[string]Value),
		execute:     RunScript,
		executeLine: RunScript,
		out:         io.Discard,
	}
	for _, opt := range opts {
		opt(ns)
	}
	return ns
}

func (ns *Namespace) run(fn ScriptFunc, code string) error {
	ns.exec.Lock()
	defer ns.exec.Unlock()
	ns.running.Add(1)
	defer ns.running.Add(-1)
	return fn(ns, code)
}

// Execute runs a script.
func (ns *Namespace) Execute(code string) error {
	return ns.run(ns.execute, code)
}

// ExecuteLine runs one line of input.
func (ns *Namespace) ExecuteLine(code string) error {
	return ns.run(ns.executeLine, code)
}

// IsRunning reports whether a script is executing.
func (ns *Namespace) IsRunning() bool {
	return ns.running.Load() > 0
}

// Pull returns the value bound to name.
func (ns *Namespace) Pull(name string) (Value, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	v, ok := ns.vars[name]
	if !ok {
		return nil, &ScriptError{Name: "NameError", Message: fmt.Sprintf("name '%s' is not defined", name)}
	}
	return v, nil
}

// Push binds every entry of values.
func (ns *Namespace) Push(values map[string]Value) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for k, v := range values {
		ns.vars[k] = v
	}
	return nil
}

// Delete unbinds name and reports whether it was bound.
func (ns *Namespace) Delete(name string) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	_, ok := ns.vars[name]
	delete(ns.vars, name)
	return ok
}

// Names returns the bound names in sorted order.
func (ns *Namespace) Names() []string {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	names := make([]string, 0, len(ns.vars))
	for k := range ns.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Restart drops every binding and runs the restart hook.
func (ns *Namespace) Restart() error {
	ns.exec.Lock()
	defer ns.exec.Unlock()
	ns.mu.Lock()
	ns.vars = make(map[string]Value)
	ns.mu.Unlock()
	if ns.restart != nil {
		return ns.restart(ns)
	}
	return nil
}

// SetStyleSheet records the console style sheet.
func (ns *Namespace) SetStyleSheet(css string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.style = css
	return nil
}

// StyleSheet returns the last style sheet set.
func (ns *Namespace) StyleSheet() string {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.style
}

// RunScript is the built-in line engine of Namespace.
func RunScript(ns *Namespace, code string) error {
	for i, raw := range strings.Split(code, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := runLine(ns, line); err != nil {
			if se, ok := err.(*ScriptError); ok && se.Name == "SyntaxError" {
				se.Message = fmt.Sprintf("line %d: %s", i+1, se.Message)
			}
			return err
		}
	}
	return nil
}

func runLine(ns *Namespace, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "del":
		if !ns.Delete(rest) {
			return &ScriptError{Name: "NameError", Message: fmt.Sprintf("name '%s' is not defined", rest)}
		}
		return nil
	case "print":
		v, err := ns.eval(rest)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(ns.out, Format(v))
		return err
	case "sleep":
		d, err := time.ParseDuration(rest)
		if err != nil {
			return &ScriptError{Name: "ValueError", Message: err.Error()}
		}
		time.Sleep(d)
		return nil
	case "raise":
		name, msg, ok := strings.Cut(rest, ":")
		if !ok {
			return &ScriptError{Name: "Exception", Message: rest}
		}
		return &ScriptError{Name: strings.TrimSpace(name), Message: strings.TrimSpace(msg)}
	}

	name, expr, ok := strings.Cut(line, "=")
	name = strings.TrimSpace(name)
	if !ok || !isIdentifier(name) {
		return &ScriptError{Name: "SyntaxError", Message: fmt.Sprintf("invalid syntax: %q", line)}
	}
	v, err := ns.eval(strings.TrimSpace(expr))
	if err != nil {
		return err
	}
	return ns.Push(map[string]Value{name: v})
}

// eval resolves a bound name or parses a YAML literal.
func (ns *Namespace) eval(expr string) (Value, error) {
	if isIdentifier(expr) {
		ns.mu.Lock()
		v, ok := ns.vars[expr]
		ns.mu.Unlock()
		if ok {
			return v, nil
		}
	}
	var out interface{}
	if err := yaml.Unmarshal([]byte(expr), &out); err != nil {
		return nil, &ScriptError{Name: "SyntaxError", Message: err.Error()}
	}
	v := FromGo(out)
	if v == nil {
		return nil, &ScriptError{Name: "TypeError", Message: fmt.Sprintf("unsupported value %q", expr)}
	}
	return v, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
