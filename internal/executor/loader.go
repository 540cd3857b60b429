// ABOUTME: Loader/Program/EntryPoint capabilities for in-process agent programs.
// ABOUTME: StaticLoader resolves stub programs by their text for tests and embedding.

package executor

import (
	"fmt"
	"os"
	"strings"

	"github.com/2389/ephemera/internal/agent"
)

// EntryPoint is a program's callable entry.
type EntryPoint func(args []any, kwargs map[string]any) (any, error)

// Program is a loaded agent program.
type Program interface {
	// Lookup returns the named entry point, or an error wrapping
	// agent.ErrMissingEntryPoint when it is absent or unusable.
	Lookup(name string) (EntryPoint, error)
}

// Loader loads the program stored at a path.
type Loader interface {
	Load(path string) (Program, error)
}

// Symbols is a Program backed by a map of entry points.
type Symbols map[string]EntryPoint

// Lookup returns the entry point registered under name.
func (s Symbols) Lookup(name string) (EntryPoint, error) {
	fn, ok := s[name]
	if !ok || fn == nil {
		return nil, fmt.Errorf("%w: %s", agent.ErrMissingEntryPoint, name)
	}
	return fn, nil
}

// StaticLoader maps trimmed program text to the symbols it provides.
type StaticLoader map[string]Symbols

// Load reads the file at path and returns the symbols registered for its text.
func (l StaticLoader) Load(path string) (Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading program: %w", err)
	}
	syms, ok := l[strings.TrimSpace(string(data))]
	if !ok {
		return nil, fmt.Errorf("unknown program %s", path)
	}
	return syms, nil
}
