// ABOUTME: Filesystem storage for agent program text, one file per agent id.
// ABOUTME: Staged writes, idempotent removal, and orphan discovery for maintenance sweeps.

package program

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/2389/ephemera/internal/agent"
)

// DefaultExtension is the file extension used for stored programs.
const DefaultExtension = ".go"

const stagePattern = ".stage-*"

// StaleStageAge is how old a staging file must be before Orphans reports it.
// Younger files may belong to a create still in flight.
const StaleStageAge = time.Minute

// Storage manages the program directory.
type Storage struct {
	dir    string
	ext    string
	logger *slog.Logger
}

// NewStorage creates the directory if needed and returns a Storage rooted at it.
func NewStorage(dir, ext string, logger *slog.Logger) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: storage directory is required", agent.ErrResource)
	}
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", agent.ErrResource, dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", agent.ErrResource, abs, err)
	}

	s := &Storage{
		dir:    abs,
		ext:    ext,
		logger: logger.With("component", "storage"),
	}
	s.logger.Info("program storage ready", "dir", abs, "extension", ext)
	return s, nil
}

// Dir returns the absolute storage directory.
func (s *Storage) Dir() string {
	return s.dir
}

// Path returns the location a program with the given id is stored at.
func (s *Storage) Path(id string) string {
	return filepath.Join(s.dir, id+s.ext)
}

// Staged is a program written to a temporary file, not yet at its final path.
type Staged struct {
	tmp  string
	path string
}

// Path returns the final location the staged program commits to.
func (st *Staged) Path() string {
	return st.path
}

// Commit moves the staged file to its final path.
func (st *Staged) Commit() error {
	if err := os.Rename(st.tmp, st.path); err != nil {
		return fmt.Errorf("%w: committing %s: %v", agent.ErrResource, st.path, err)
	}
	return nil
}

// Discard removes the staged file if it was never committed.
func (st *Staged) Discard() {
	if err := os.Remove(st.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("failed to discard staged program", "path", st.tmp, "error", err)
	}
}

// Stage writes text to a temporary file in the storage directory.
func (s *Storage) Stage(id, text string) (*Staged, error) {
	f, err := os.CreateTemp(s.dir, stagePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: staging %s: %v", agent.ErrResource, id, err)
	}
	tmp := f.Name()

	if _, err := f.WriteString(text); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("%w: writing %s: %v", agent.ErrResource, id, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("%w: writing %s: %v", agent.ErrResource, id, err)
	}

	return &Staged{tmp: tmp, path: s.Path(id)}, nil
}

// Remove deletes the program at location. A missing file is not an error.
func (s *Storage) Remove(location string) error {
	if err := os.Remove(location); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %v", agent.ErrResource, location, err)
	}
	s.logger.Debug("removed program file", "path", location)
	return nil
}

// Exists reports whether a program file is present at location.
func (s *Storage) Exists(location string) bool {
	_, err := os.Stat(location)
	return err == nil
}

// Orphan is a file in the storage directory that no registered agent owns.
type Orphan struct {
	Path string
	// ID is the agent id the file name maps to; empty for staging files.
	ID     string
	Staged bool
}

// Orphans lists program files whose ids are not tracked according to the
// tracked predicate, and staging files last modified before staleBefore.
// The listing is a snapshot: callers must re-check an id is still untracked
// before removing its file.
func (s *Storage) Orphans(tracked func(id string) bool, staleBefore time.Time) ([]Orphan, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", agent.ErrResource, s.dir, err)
	}

	var orphans []Orphan
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if matched, _ := filepath.Match(stagePattern, name); matched {
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(staleBefore) {
				continue
			}
			orphans = append(orphans, Orphan{Path: filepath.Join(s.dir, name), Staged: true})
			continue
		}
		if !strings.HasSuffix(name, s.ext) {
			continue
		}
		id := strings.TrimSuffix(name, s.ext)
		if tracked != nil && tracked(id) {
			continue
		}
		orphans = append(orphans, Orphan{Path: filepath.Join(s.dir, name), ID: id})
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Path < orphans[j].Path })
	return orphans, nil
}
