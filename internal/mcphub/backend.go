package mcphub

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/csa-dev/csa/internal/logging"
)

var backendLog = logging.ForComponent(logging.CompPool)

// backend wraps one MCP server (a local stdio subprocess, or a remote
// HTTP(S) endpoint) behind a uniform request/response interface so the
// Hub can route tool calls to it without knowing which transport it uses.
type backend struct {
	spec BackendSpec

	proc      *exec.Cmd
	procStdin io.WriteCloser

	client *httpBackendClient // set instead of proc for remote backends

	statusMu sync.RWMutex
	status   Status

	// requestMu guards requestRoutes, which maps an in-flight JSON-RPC
	// request ID to the hub client session that should receive its
	// response, so many hub clients can share one backend connection.
	requestMu     sync.Mutex
	requestRoutes map[interface{}]string

	deliverMu sync.RWMutex
	deliver   func(sessionID string, line []byte) // set by the Hub at registration

	restartCount  int
	totalFailures int
	lastRestart   time.Time

	// limiter throttles requests forwarded to this backend when
	// spec.RateLimitPerSec > 0; nil means unthrottled.
	limiter *rate.Limiter
}

func newBackend(spec BackendSpec) *backend {
	b := &backend{
		spec:          spec,
		status:        StatusStopped,
		requestRoutes: make(map[interface{}]string),
	}
	if spec.RateLimitPerSec > 0 {
		burst := spec.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(spec.RateLimitPerSec), burst)
	}
	return b
}

func (b *backend) setStatus(s Status) {
	b.statusMu.Lock()
	b.status = s
	b.statusMu.Unlock()
}

func (b *backend) getStatus() Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	return b.status
}

// start launches the backend. For a stdio backend this spawns the
// subprocess; for a remote backend it validates the URL and opens an
// HTTP client. ctx's cancellation stops the backend.
func (b *backend) start(ctx context.Context) error {
	if b.spec.URL != "" {
		if err := ValidateHTTPURL(b.spec.URL, b.spec.Insecure, b.spec.Name); err != nil {
			return err
		}
		if err := PreflightSSRFCheck(b.spec.URL, b.spec.Name); err != nil {
			return err
		}
		b.client = newHTTPBackendClient(b.spec.URL)
		b.setStatus(StatusRunning)
		return nil
	}

	cmd := exec.CommandContext(ctx, b.spec.Command, b.spec.Args...)
	cmdEnv := os.Environ()
	for k, v := range b.spec.Env {
		cmdEnv = append(cmdEnv, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = cmdEnv

	// New process group so grandchildren (node spawned by npx, python by
	// uvx) die together with the backend instead of being orphaned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 3 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		return err
	}

	b.proc = cmd
	b.procStdin = stdin
	backendLog.Info("backend_started", slog.String("mcp", b.spec.Name), slog.Int("pid", cmd.Process.Pid))

	go func() { _, _ = io.Copy(io.Discard, stderr) }()
	go b.readResponses(stdout)

	b.setStatus(StatusRunning)
	return nil
}

// handleRequest forwards a single JSON-RPC request line from sessionID to
// the backend, recording where its response should be routed. When the
// backend is rate-limited, this blocks until a token is available so a
// burst of client requests is smoothed rather than dropped.
func (b *backend) handleRequest(sessionID string, line []byte) {
	var req JSONRPCRequest
	if json.Unmarshal(line, &req) == nil && req.ID != nil {
		b.requestMu.Lock()
		b.requestRoutes[req.ID] = sessionID
		b.requestMu.Unlock()
	}

	if b.limiter != nil {
		_ = b.limiter.Wait(context.Background())
	}

	if b.client != nil {
		go b.forwardHTTP(line)
		return
	}

	if b.procStdin == nil {
		return
	}
	_, _ = b.procStdin.Write(line)
	_, _ = b.procStdin.Write([]byte("\n"))
}

func (b *backend) forwardHTTP(line []byte) {
	resp, err := b.client.send(line)
	if err != nil {
		backendLog.Warn("http_backend_forward_failed", slog.String("mcp", b.spec.Name), slog.String("error", err.Error()))
		return
	}
	b.routeResponse(resp)
}

// readResponses scans the subprocess's stdout line by line, routing each
// response to the hub client session that owns its request ID.
func (b *backend) readResponses(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		b.routeResponse(append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		backendLog.Warn("backend_stdout_scanner_error", slog.String("mcp", b.spec.Name), slog.String("error", err.Error()))
	}
	b.setStatus(StatusFailed)
}

func (b *backend) routeResponse(line []byte) {
	var resp JSONRPCResponse
	if json.Unmarshal(line, &resp) != nil || resp.ID == nil {
		return
	}

	b.requestMu.Lock()
	sessionID, ok := b.requestRoutes[resp.ID]
	if ok {
		delete(b.requestRoutes, resp.ID)
	}
	b.requestMu.Unlock()

	if !ok {
		return
	}
	b.deliverMu.RLock()
	deliver := b.deliver
	b.deliverMu.RUnlock()
	if deliver != nil {
		deliver(sessionID, line)
	}
}

// setDeliver installs the callback routeResponse uses to hand a response
// back to whichever hub client (or internal route-discovery call) owns
// its request ID.
func (b *backend) setDeliver(fn func(sessionID string, line []byte)) {
	b.deliverMu.Lock()
	b.deliver = fn
	b.deliverMu.Unlock()
}

func (b *backend) stop() error {
	if b.proc != nil && b.procStdin != nil {
		_ = b.procStdin.Close()
		done := make(chan error, 1)
		go func() { done <- b.proc.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			if b.proc.Process != nil {
				_ = syscall.Kill(-b.proc.Process.Pid, syscall.SIGKILL)
			}
			<-done
		}
	}
	b.setStatus(StatusStopped)
	return nil
}

func (b *backend) healthCheck() error {
	if b.client != nil {
		return nil
	}
	if b.proc == nil || b.proc.Process == nil {
		return fmt.Errorf("backend %s: process not running", b.spec.Name)
	}
	return b.proc.Process.Signal(syscall.Signal(0))
}
