// Package executor runs stored agent programs.
//
// # In-process
//
// InProcess loads a program through a Loader, looks up its entry point and
// calls it on the caller's goroutine:
//
//	prog, _ := loader.Load(path)      // capability: load by path
//	main, _ := prog.Lookup("Main")    // capability: invoke by name
//	result, err := main(args, kwargs)
//
// Interpreter is the production Loader: it evaluates Go source with yaegi.
// Programs declare a non-main package and export the entry point with one of
// these signatures:
//
//	func Main(args []any, kwargs map[string]any) (any, error)
//	func Main(args ...any) (any, error)
//	func Main() (any, error)
//	func Main(args ...any) any
//
// StaticLoader maps program text to Go functions and stands in for real
// programs in tests.
//
// # Out-of-process
//
// Subprocess spawns command... <path> <args...> with every argument
// stringified, and captures stdout, stderr and the exit code. A non-zero exit
// is reported through Result, not as an error. The default command re-runs
// the current binary's exec subcommand, which interprets the program with
// the same loader.
//
// Neither mode imposes a timeout. An in-process call holds the caller until
// the entry point returns; a subprocess can only be stopped by killing it.
package executor
