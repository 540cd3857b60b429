// ABOUTME: Loader that interprets Go source agent programs with yaegi.
// ABOUTME: Each load gets a fresh interpreter; entry points are adapted to EntryPoint.

package executor

import (
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/2389/ephemera/internal/agent"
)

// Interpreter loads Go source programs into a yaegi interpreter.
type Interpreter struct {
	// Stdout and Stderr receive the program's output. Nil means os.Stdout
	// and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// Load parses and evaluates the program at path.
func (in *Interpreter) Load(path string) (Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading program: %w", err)
	}

	f, err := parser.ParseFile(token.NewFileSet(), path, src, parser.PackageClauseOnly)
	if err != nil {
		return nil, fmt.Errorf("parsing package clause: %w", err)
	}
	pkg := f.Name.Name
	if pkg == "main" {
		return nil, fmt.Errorf("program %s declares package main; agent programs need a library package", path)
	}

	opts := interp.Options{
		Stdout: in.Stdout,
		Stderr: in.Stderr,
		Args:   []string{path},
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	i := interp.New(opts)
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib symbols: %w", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, fmt.Errorf("evaluating program: %w", err)
	}

	return &interpreted{interp: i, pkg: pkg}, nil
}

type interpreted struct {
	interp *interp.Interpreter
	pkg    string
}

// Lookup resolves pkg.name and adapts it to an EntryPoint.
func (p *interpreted) Lookup(name string) (EntryPoint, error) {
	v, err := p.interp.Eval(p.pkg + "." + name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", agent.ErrMissingEntryPoint, p.pkg, name, err)
	}
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: %s.%s is not a function", agent.ErrMissingEntryPoint, p.pkg, name)
	}
	return adapt(name, v)
}

func adapt(name string, v reflect.Value) (EntryPoint, error) {
	switch fn := v.Interface().(type) {
	case func([]any, map[string]any) (any, error):
		return fn, nil
	case func(...any) (any, error):
		return func(args []any, _ map[string]any) (any, error) {
			return fn(args...)
		}, nil
	case func() (any, error):
		return func([]any, map[string]any) (any, error) {
			return fn()
		}, nil
	case func(...any) any:
		return func(args []any, _ map[string]any) (any, error) {
			return fn(args...), nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s has unsupported signature %s", agent.ErrMissingEntryPoint, name, v.Type())
	}
}
