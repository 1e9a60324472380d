// Package exec talks to the remote code-execution collaborator (a
// Judge0-compatible API): submit a source blob, poll until the submission
// reaches a terminal state, return the result. The result payload stays
// opaque to the rest of the server — rooms store and broadcast it verbatim.
package exec

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Status is the terminal state of a submission. A submission that never
// leaves the queue within the poll budget ends as StatusTimeout.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusCompileError Status = "compileError"
	StatusRuntimeError Status = "runtimeError"
	StatusTimeout      Status = "timeout"
)

// Judge0 status ids. 1 and 2 are non-terminal.
const (
	judgeInQueue      = 1
	judgeProcessing   = 2
	judgeAccepted     = 3
	judgeTimeLimit    = 5
	judgeCompileError = 6
)

const (
	defaultPollInterval = 1 * time.Second
	defaultMaxAttempts  = 15
)

// Result is what the caller hands back to the UI, which then emits it as
// output-details. Raw carries the collaborator's full response untouched.
type Result struct {
	Status        Status          `json:"status"`
	Stdout        string          `json:"stdout,omitempty"`
	Stderr        string          `json:"stderr,omitempty"`
	CompileOutput string          `json:"compileOutput,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	maxAttempts  int
	logger       *zap.Logger
}

func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
		logger:       logger,
	}
}

type submitRequest struct {
	LanguageID int    `json:"language_id"`
	SourceCode string `json:"source_code"`
	Stdin      string `json:"stdin,omitempty"`
}

type submitResponse struct {
	Token string `json:"token"`
}

type submissionResponse struct {
	Status struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
}

// Execute runs the submit → poll → terminal state machine. The poll loop
// uses a fixed interval and a bounded attempt count; cancelling ctx (the
// owning connection went away) stops it immediately.
func (c *Client) Execute(ctx context.Context, languageID int, source, stdin string) (*Result, error) {
	token, err := c.submit(ctx, languageID, source, stdin)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		result, done, err := c.poll(ctx, token)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
	}

	c.logger.Warn("submission still pending after poll budget",
		zap.String("token", token),
		zap.Int("attempts", c.maxAttempts),
	)
	return &Result{Status: StatusTimeout}, nil
}

func (c *Client) submit(ctx context.Context, languageID int, source, stdin string) (string, error) {
	body, err := json.Marshal(submitRequest{
		LanguageID: languageID,
		SourceCode: base64.StdEncoding.EncodeToString([]byte(source)),
		Stdin:      base64.StdEncoding.EncodeToString([]byte(stdin)),
	})
	if err != nil {
		return "", fmt.Errorf("marshal submission: %w", err)
	}

	url := c.baseURL + "/submissions?base64_encoded=true&fields=*"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("submit: unexpected status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if sr.Token == "" {
		return "", fmt.Errorf("submit: empty token")
	}
	return sr.Token, nil
}

func (c *Client) poll(ctx context.Context, token string) (*Result, bool, error) {
	url := c.baseURL + "/submissions/" + token + "?base64_encoded=true&fields=*"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build poll request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("poll: unexpected status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, false, fmt.Errorf("decode poll response: %w", err)
	}

	var sub submissionResponse
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, false, fmt.Errorf("decode submission: %w", err)
	}

	switch sub.Status.ID {
	case judgeInQueue, judgeProcessing:
		return nil, false, nil
	}

	result := &Result{
		Status:        statusFor(sub.Status.ID),
		Stdout:        decodeField(sub.Stdout),
		Stderr:        decodeField(sub.Stderr),
		CompileOutput: decodeField(sub.CompileOutput),
		Raw:           raw,
	}
	return result, true, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
	}
}

func statusFor(id int) Status {
	switch id {
	case judgeAccepted:
		return StatusSuccess
	case judgeCompileError:
		return StatusCompileError
	case judgeTimeLimit:
		return StatusTimeout
	default:
		return StatusRuntimeError
	}
}

// decodeField tolerates both base64 and plain-text responses; some Judge0
// deployments ignore the base64_encoded flag on error fields.
func decodeField(s string) string {
	if s == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return string(decoded)
}
