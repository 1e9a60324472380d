package exec

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeJudge simulates a Judge0-compatible endpoint: one submission token,
// a configurable number of "processing" polls, then a terminal status.
type fakeJudge struct {
	polls          atomic.Int32
	pendingPolls   int32
	terminalStatus int
	stdout         string
	compileOutput  string
}

func (f *fakeJudge) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/submissions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("/submissions/tok-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		n := f.polls.Add(1)
		status := f.terminalStatus
		if n <= f.pendingPolls {
			status = judgeProcessing
		}
		fmt.Fprintf(w, `{"status":{"id":%d,"description":"x"},"stdout":%q,"stderr":"","compile_output":%q}`,
			status,
			base64.StdEncoding.EncodeToString([]byte(f.stdout)),
			base64.StdEncoding.EncodeToString([]byte(f.compileOutput)),
		)
	})
	return mux
}

func newTestClient(url string) *Client {
	c := NewClient(url, "", zap.NewNop())
	c.pollInterval = 5 * time.Millisecond
	c.maxAttempts = 5
	return c
}

func TestExecuteSuccessAfterPolling(t *testing.T) {
	judge := &fakeJudge{pendingPolls: 2, terminalStatus: judgeAccepted, stdout: "hello\n"}
	srv := httptest.NewServer(judge.handler())
	defer srv.Close()

	result, err := newTestClient(srv.URL).Execute(context.Background(), 63, "console.log('hello')", "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("Expected success, got %s", result.Status)
	}
	if result.Stdout != "hello\n" {
		t.Errorf("Expected decoded stdout, got %q", result.Stdout)
	}
	if len(result.Raw) == 0 {
		t.Error("Raw collaborator payload should be preserved")
	}
}

func TestExecuteCompileError(t *testing.T) {
	judge := &fakeJudge{terminalStatus: judgeCompileError, compileOutput: "syntax error"}
	srv := httptest.NewServer(judge.handler())
	defer srv.Close()

	result, err := newTestClient(srv.URL).Execute(context.Background(), 62, "class {", "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusCompileError {
		t.Errorf("Expected compileError, got %s", result.Status)
	}
	if result.CompileOutput != "syntax error" {
		t.Errorf("Expected decoded compile output, got %q", result.CompileOutput)
	}
}

func TestExecutePollBudgetExhausted(t *testing.T) {
	judge := &fakeJudge{pendingPolls: 1000, terminalStatus: judgeAccepted}
	srv := httptest.NewServer(judge.handler())
	defer srv.Close()

	result, err := newTestClient(srv.URL).Execute(context.Background(), 63, "while(1){}", "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusTimeout {
		t.Errorf("Expected timeout after poll budget, got %s", result.Status)
	}
	if got := judge.polls.Load(); got != 5 {
		t.Errorf("Expected exactly 5 polls, got %d", got)
	}
}

func TestExecuteCancelledByCaller(t *testing.T) {
	judge := &fakeJudge{pendingPolls: 1000, terminalStatus: judgeAccepted}
	srv := httptest.NewServer(judge.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(srv.URL).Execute(ctx, 63, "while(1){}", "")
	if err == nil {
		t.Fatal("Expected cancellation error")
	}
}

func TestExecuteSubmitFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Execute(context.Background(), 63, "x", "")
	if err == nil {
		t.Fatal("Expected submit error")
	}
}
