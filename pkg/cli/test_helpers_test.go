package cli

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"testing"
)

// capturedRequest holds details captured from an incoming HTTP request.
type capturedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    string
}

// requestRecorder is a thread-safe recorder for HTTP requests received by httptest servers.
type requestRecorder struct {
	mu       sync.Mutex
	requests []capturedRequest
}

func (r *requestRecorder) record(req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	_ = req.Body.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, capturedRequest{
		Method:  req.Method,
		Path:    req.URL.Path,
		Query:   req.URL.RawQuery,
		Headers: req.Header.Clone(),
		Body:    string(body),
	})
}

func (r *requestRecorder) all() []capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capturedRequest(nil), r.requests...)
}

func (r *requestRecorder) last() capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		return capturedRequest{}
	}
	return r.requests[len(r.requests)-1]
}

// jsonHandler records the request and answers with status and body.
func jsonHandler(rec *requestRecorder, status int, respBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}
}

// cliRun holds the output of one CLI invocation.
type cliRun struct {
	stdout string
	stderr string
	err    error
}

// runCLI executes the root command with an isolated config directory.
func runCLI(t *testing.T, args ...string) cliRun {
	t.Helper()
	isolateConfig(t)
	return runCLIShared(t, args...)
}

// runCLIShared executes the root command without resetting the config
// directory, so several invocations can share profiles.
func runCLIShared(t *testing.T, args ...string) cliRun {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd := newRootCmd()
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return cliRun{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("TSQ_CONFIG_DIR", dir)
	t.Setenv("TSQ_HOST", "")
	t.Setenv("TSQ_TOKEN", "")
	t.Setenv("TSQ_OUTPUT", "")
	return dir
}
