// ABOUTME: Tests for the ephemera CLI: config discovery, exec subcommand, token minting, and output formatting
// ABOUTME: The exec tests interpret real Go sources through yaegi

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ephemera/internal/api"
	"github.com/2389/ephemera/internal/auth"
	"github.com/2389/ephemera/internal/config"
	"github.com/2389/ephemera/internal/server"
)

func disableColor(t *testing.T) {
	t.Helper()
	orig := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = orig })
}

func TestGetConfigPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("EPHEMERA_CONFIG", "/etc/ephemera.toml")
		assert.Equal(t, "/etc/ephemera.toml", getConfigPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("EPHEMERA_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		assert.Equal(t, filepath.Join("/xdg", "ephemera", "config.yaml"), getConfigPath())
	})

	t.Run("home fallback", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("EPHEMERA_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", home)
		assert.Equal(t, filepath.Join(home, ".config", "ephemera", "config.yaml"), getConfigPath())
	})
}

func TestBaseURL(t *testing.T) {
	tests := map[string]string{
		":8000":          "http://localhost:8000",
		"0.0.0.0:9000":   "http://localhost:9000",
		"127.0.0.1:8080": "http://127.0.0.1:8080",
		"[::]:7000":      "http://localhost:7000",
		"example.com":    "http://example.com",
	}
	for addr, want := range tests {
		assert.Equal(t, want, baseURL(addr), addr)
	}
}

func writeProgram(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.go")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestRunExec(t *testing.T) {
	path := writeProgram(t, `package agent

import "strings"

func Main(args ...any) (any, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.(string)
	}
	return "hello " + strings.Join(parts, " "), nil
}
`)

	var stdout, stderr bytes.Buffer
	code := runExec([]string{path, "big", "world"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "hello big world\n", stdout.String())
}

func TestRunExec_EntryPointFromEnv(t *testing.T) {
	t.Setenv(server.EntryPointEnv, "Run")
	path := writeProgram(t, `package agent

func Run() (any, error) { return map[string]int{"answer": 42}, nil }
`)

	var stdout, stderr bytes.Buffer
	code := runExec([]string{path}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.JSONEq(t, `{"answer":42}`, stdout.String())
}

func TestRunExec_Failures(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, runExec(nil, &stdout, &stderr))

	stderr.Reset()
	path := writeProgram(t, `package agent

import "errors"

func Main() (any, error) { return nil, errors.New("no luck") }
`)
	assert.Equal(t, 1, runExec([]string{path}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "no luck")

	stderr.Reset()
	assert.Equal(t, 1, runExec([]string{filepath.Join(t.TempDir(), "missing.go")}, &stdout, &stderr))
	assert.NotEmpty(t, stderr.String())
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, nil))
	assert.Empty(t, buf.String())

	require.NoError(t, printResult(&buf, "plain"))
	require.NoError(t, printResult(&buf, 3.5))
	require.NoError(t, printResult(&buf, []int{1, 2}))
	assert.Equal(t, "plain\n3.5\n[1,2]\n", buf.String())

	buf.Reset()
	ch := make(chan int)
	require.NoError(t, printResult(&buf, ch))
	assert.NotEmpty(t, buf.String())
}

func TestPrintAgents(t *testing.T) {
	disableColor(t)

	var buf bytes.Buffer
	printAgents(&buf, nil)
	assert.Equal(t, "no agents\n", buf.String())

	buf.Reset()
	printAgents(&buf, map[string]api.AgentSummary{
		"zeta":  {Status: "error", IdleTime: 1.25, TimeLeft: 28.75},
		"alpha": {Status: "created", IdleTime: 10, TimeLeft: 20},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "STATUS")
	assert.True(t, strings.HasPrefix(lines[1], "alpha"))
	assert.Contains(t, lines[1], "10.0s")
	assert.True(t, strings.HasPrefix(lines[2], "zeta"))
	assert.Contains(t, lines[2], "28.8s")
}

func TestRunToken(t *testing.T) {
	secret := strings.Repeat("s", 32)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwt_secret: "+secret+"\n"), 0o644))
	t.Setenv("EPHEMERA_CONFIG", path)

	// runToken prints to stdout; capture through a pipe
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	err = runToken([]string{"operator", "1h"})
	os.Stdout = orig
	w.Close()
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	subject, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "operator", subject)
}

func TestRunToken_Errors(t *testing.T) {
	assert.Error(t, runToken(nil))
	assert.Error(t, runToken([]string{"x", "soon"}))

	t.Setenv("EPHEMERA_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	err := runToken([]string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "agent_id", "a1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "a1", line["agent_id"])
}

func TestNewLogger_Color(t *testing.T) {
	disableColor(t)

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug"}, &buf)
	logger.With("component", "test").Debug("hello", "n", 1)

	out := buf.String()
	assert.Contains(t, out, "DBG hello")
	assert.Contains(t, out, "component=test")
	assert.Contains(t, out, "n=1")
}
