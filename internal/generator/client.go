// Package generator provides a uniform interface over the Generator
// sub-agent layer: a text mode and a tool mode, both implemented over a
// child "claude" CLI process. Grounded function-for-function on
// original_source/agent/llm.py. Cancellation-aware: both modes poll a
// shared context at least every 500ms while the sub-agent runs.
package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// CredentialEnvVar is the environment variable the CLI backend requires
// at startup (spec.md §6: "Environment variable <CREDENTIAL> required
// at startup; absence is a fatal init error").
const CredentialEnvVar = "CLAUDE_CODE_OAUTH_TOKEN"

// ErrCancelled is returned when the shared cancellation context fires
// while a sub-agent call is outstanding.
var ErrCancelled = fmt.Errorf("generator: pipeline cancelled")

// Client drives the claude CLI subprocess, grounded on
// original_source/agent/llm.py's _init_backend/_run_cli.
type Client struct {
	claudePath string
	model      string
}

// New locates the claude CLI and validates the credential env var is
// set. Returns a fatal init error if either is missing, matching
// _init_backend's behavior.
func New(model string) (*Client, error) {
	path, err := exec.LookPath("claude")
	if err != nil {
		return nil, fmt.Errorf("generator: claude CLI not found on PATH: %w", err)
	}
	if os.Getenv(CredentialEnvVar) == "" {
		return nil, fmt.Errorf("generator: required credential env var %s is not set", CredentialEnvVar)
	}
	return &Client{claudePath: path, model: model}, nil
}

// Generate is text mode: invokes the sub-agent process, returns its
// stdout text. Hard-fails on non-zero exit, empty output, or timeout.
func (c *Client) Generate(ctx context.Context, systemPrompt, userContent string, timeout time.Duration) (string, error) {
	prompt := systemPrompt + "\n\n---\n\n" + userContent
	args := []string{"-p", "--model", c.model}
	return c.runCLI(ctx, args, prompt, timeout, "generate")
}

// GenerateWithTools is tool mode: same contract but exposes a
// restricted tool surface via an MCP config file and an allow-list.
func (c *Client) GenerateWithTools(ctx context.Context, systemPrompt, userContent string, mcpServerURL, apiKeyEnv string, allowedTools []string, timeout time.Duration) (string, error) {
	prompt := systemPrompt + "\n\n---\n\n" + userContent

	mcpPath, err := c.buildMCPConfig(mcpServerURL, apiKeyEnv)
	if err != nil {
		return "", err
	}
	defer os.Remove(mcpPath)

	args := []string{"-p", "--model", c.model, "--mcp-config", mcpPath, "--allowedTools", strings.Join(allowedTools, ",")}
	return c.runCLI(ctx, args, prompt, timeout, "generate_with_tools")
}

// buildMCPConfig writes a temp JSON file describing the datagen MCP
// server, mirroring _build_mcp_config. Caller must remove the file.
func (c *Client) buildMCPConfig(serverURL, apiKeyEnv string) (string, error) {
	cfg := map[string]any{
		"mcpServers": map[string]any{
			"datagen": map[string]any{
				"url": serverURL,
				"headers": map[string]string{
					"X-API-Key": os.Getenv(apiKeyEnv),
				},
			},
		},
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("generator: marshal mcp config: %w", err)
	}

	f, err := os.CreateTemp("", "mcp-config-*.json")
	if err != nil {
		return "", fmt.Errorf("generator: create mcp config temp file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		return "", fmt.Errorf("generator: write mcp config: %w", err)
	}
	return f.Name(), nil
}

// runCLI runs the claude subprocess with the given prompt on stdin,
// polling ctx for cancellation at least every 500ms and killing the
// process if it fires (spec.md §4.3 "Cancellation").
func (c *Client) runCLI(ctx context.Context, args []string, prompt string, timeout time.Duration, label string) (string, error) {
	cmd := exec.Command(c.claudePath, args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("generator: %s: start: %w", label, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				return "", fmt.Errorf("generator: %s: %w: %s", label, err, stderr.String())
			}
			out := strings.TrimSpace(stdout.String())
			if out == "" {
				return "", fmt.Errorf("generator: %s: empty output", label)
			}
			return out, nil
		case <-ticker.C:
			if ctx.Err() != nil {
				_ = cmd.Process.Kill()
				<-done
				return "", ErrCancelled
			}
			if time.Now().After(deadline) {
				_ = cmd.Process.Kill()
				<-done
				return "", fmt.Errorf("generator: %s: timed out after %s", label, timeout)
			}
		}
	}
}

// --- JSON extraction ladder, grounded on _extract_json ---

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
var bracesBlock = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSON implements the three-step extraction ladder: raw JSON,
// then the first fenced ```json block, then the first {...} block;
// unrecoverable output yields an empty map so callers can fill in
// defaults (spec.md §4.3, §9 "LLM JSON tolerance").
func ExtractJSON(text string) map[string]any {
	text = strings.TrimSpace(text)

	var direct map[string]any
	if err := json.Unmarshal([]byte(text), &direct); err == nil {
		return direct
	}

	if m := fencedJSONBlock.FindStringSubmatch(text); m != nil {
		var fenced map[string]any
		if err := json.Unmarshal([]byte(m[1]), &fenced); err == nil {
			return fenced
		}
	}

	if m := bracesBlock.FindString(text); m != "" {
		var braced map[string]any
		if err := json.Unmarshal([]byte(m), &braced); err == nil {
			return braced
		}
	}

	return map[string]any{}
}

// firstLine returns the first line of s; nothing in the package calls
// it, and it is not part of the public extraction ladder.
func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	if sc.Scan() {
		return sc.Text()
	}
	return s
}
