// ABOUTME: Client subcommands that talk to a running ephemera server over HTTP
// ABOUTME: Also mints bearer tokens from the configured JWT secret

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/2389/ephemera/internal/api"
	"github.com/2389/ephemera/internal/auth"
)

// tokenEnv holds the bearer token client subcommands send.
const tokenEnv = "EPHEMERA_TOKEN"

// baseURL turns a listen address into a URL a local client can dial.
func baseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// envelope is the common shape of API responses.
type envelope struct {
	Status          string                      `json:"status"`
	Message         string                      `json:"message"`
	Timer           string                      `json:"timer"`
	Agents          map[string]api.AgentSummary `json:"agents"`
	Removed         int                         `json:"removed"`
	RemainingAgents []string                    `json:"remaining_agents"`
}

// call performs a request against the configured server and decodes the envelope.
func call(ctx context.Context, method, path string) (*envelope, int, error) {
	cfg, _, _, err := loadConfig()
	if err != nil {
		return nil, 0, err
	}

	url := baseURL(cfg.Server.HTTPAddr) + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if token := os.Getenv(tokenEnv); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if env.Status == "error" {
		return &env, resp.StatusCode, fmt.Errorf("server error (status %d): %s", resp.StatusCode, env.Message)
	}
	return &env, resp.StatusCode, nil
}

func runHealth(ctx context.Context) error {
	env, code, err := call(ctx, http.MethodGet, "/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("not ready: timer %s", env.Timer)
	}

	color.New(color.FgGreen).Print("healthy")
	fmt.Printf(" (timer %s)\n", env.Timer)
	return nil
}

func runAgents(ctx context.Context) error {
	env, _, err := call(ctx, http.MethodGet, "/api/agents")
	if err != nil {
		return err
	}
	printAgents(os.Stdout, env.Agents)
	return nil
}

func printAgents(w io.Writer, agents map[string]api.AgentSummary) {
	if len(agents) == 0 {
		fmt.Fprintln(w, "no agents")
		return
	}

	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bold := color.New(color.Bold)
	bold.Fprintf(w, "%-24s %-10s %10s %10s\n", "ID", "STATUS", "IDLE", "LEFT")
	for _, id := range ids {
		a := agents[id]
		status := a.Status
		switch status {
		case "error":
			status = color.RedString("%-10s", status)
		case "running":
			status = color.CyanString("%-10s", status)
		default:
			status = fmt.Sprintf("%-10s", status)
		}
		fmt.Fprintf(w, "%-24s %s %9.1fs %9.1fs\n", id, status, a.IdleTime, a.TimeLeft)
	}
}

func runSweep(ctx context.Context) error {
	env, _, err := call(ctx, http.MethodPost, "/api/check-cleanup")
	if err != nil {
		return err
	}

	fmt.Printf("removed %d agents, %d remaining\n", env.Removed, len(env.RemainingAgents))
	for _, id := range env.RemainingAgents {
		color.New(color.FgHiBlack).Printf("  %s\n", id)
	}
	return nil
}

func runToken(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ephemera token <subject> [ttl]")
	}
	subject := args[0]

	var ttl time.Duration
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl %q: %w", args[1], err)
		}
		ttl = d
	}

	cfg, _, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}
