package mcphub

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/csa-dev/csa/internal/logging"
	"github.com/csa-dev/csa/internal/metrics"
)

var hubLog = logging.ForComponent(logging.CompPool)

const maxClientsPerHub = 200

// Hub is the MCP Proxy Hub: one shared Unix domain socket per
// (project_root, toolchain_hash), fronting a pool of backend MCP servers.
// Many tool subprocesses connect to the same socket; the Hub answers
// tools/list by aggregating every backend's tool catalog and routes
// tools/call to whichever backend owns the requested tool, starting each
// backend exactly once no matter how many clients use it.
type Hub struct {
	key        string
	socketPath string

	mu       sync.RWMutex
	backends map[string]*backend

	toolRoutesMu sync.RWMutex
	toolRoutes   map[string]string // tool name -> backend name

	clientsMu sync.RWMutex
	clients   map[string]net.Conn

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	requestTimeout time.Duration
}

// NewHub creates a Hub for key (see HubKey) without starting any backend
// or listener; call RegisterBackend then Listen.
func NewHub(ctx context.Context, key string) *Hub {
	ctx, cancel := context.WithCancel(ctx)
	return &Hub{
		key:            key,
		socketPath:     SocketPath(key),
		backends:       make(map[string]*backend),
		toolRoutes:     make(map[string]string),
		clients:        make(map[string]net.Conn),
		ctx:            ctx,
		cancel:         cancel,
		requestTimeout: 30 * time.Second,
	}
}

// RegisterBackend starts spec's backend if it isn't already registered
// under this hub. Re-registering an existing name is a no-op.
func (h *Hub) RegisterBackend(spec BackendSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.backends[spec.Name]; exists {
		return nil
	}

	b := newBackend(spec)
	b.setDeliver(h.deliverToClient)
	if err := b.start(h.ctx); err != nil {
		return fmt.Errorf("starting backend %s: %w", spec.Name, err)
	}
	h.backends[spec.Name] = b
	return nil
}

// Listen binds the hub's shared Unix socket (removing any stale socket
// file first) and accepts client connections until ctx is canceled.
func (h *Hub) Listen() error {
	dir := filepath.Dir(h.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if _, err := os.Stat(h.socketPath); err == nil {
		if isSocketAlive(h.socketPath) {
			return fmt.Errorf("hub socket %s already has a live listener", h.socketPath)
		}
		_ = os.Remove(h.socketPath)
	}

	listener, err := net.Listen("unix", h.socketPath)
	if err != nil {
		return fmt.Errorf("binding hub socket: %w", err)
	}
	if err := os.Chmod(h.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod hub socket: %w", err)
	}
	h.listener = listener

	hubLog.Info("hub_listening", slog.String("key", h.key), slog.String("path", h.socketPath))
	go h.acceptLoop()
	return nil
}

func isSocketAlive(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (h *Hub) acceptLoop() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.ctx.Done():
				return
			default:
				hubLog.Warn("hub_accept_error", slog.String("key", h.key), slog.String("error", err.Error()))
				return
			}
		}

		h.clientsMu.RLock()
		count := len(h.clients)
		h.clientsMu.RUnlock()
		if count >= maxClientsPerHub {
			hubLog.Warn("hub_max_clients", slog.String("key", h.key))
			conn.Close()
			continue
		}

		sessionID := fmt.Sprintf("%s-client-%s", h.key, uuid.NewString())

		h.clientsMu.Lock()
		h.clients[sessionID] = conn
		h.clientsMu.Unlock()

		go h.handleClient(sessionID, conn)
	}
}

func (h *Hub) handleClient(sessionID string, conn net.Conn) {
	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, sessionID)
		h.clientsMu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		h.routeRequest(sessionID, line)
	}
}

// routeRequest answers tools/list directly from the aggregated catalog,
// and forwards everything else (principally tools/call) to the backend
// that owns the named tool, refreshing the catalog once if the tool is
// unknown.
func (h *Hub) routeRequest(sessionID string, line []byte) {
	start := time.Now()
	var req JSONRPCRequest
	if json.Unmarshal(line, &req) != nil {
		return
	}
	defer func() {
		metrics.ObserveMCPHubOverhead(req.Method, time.Since(start).Seconds())
	}()

	if req.Method == "tools/list" {
		h.respondToolsList(sessionID, req.ID)
		return
	}

	toolName, ok := toolNameFromCallParams(req.Params)
	if !ok {
		h.broadcastUnroutable(line)
		return
	}

	backendName, ok := h.lookupOwner(toolName)
	if !ok {
		h.refreshToolRoutes()
		backendName, ok = h.lookupOwner(toolName)
	}
	if !ok {
		h.sendError(sessionID, req.ID, fmt.Sprintf("unknown MCP tool: %s", toolName))
		return
	}

	h.mu.RLock()
	b := h.backends[backendName]
	h.mu.RUnlock()
	if b == nil {
		h.sendError(sessionID, req.ID, fmt.Sprintf("backend %s no longer registered", backendName))
		return
	}
	b.handleRequest(sessionID, line)
}

func toolNameFromCallParams(params interface{}) (string, bool) {
	m, ok := params.(map[string]interface{})
	if !ok {
		return "", false
	}
	name, ok := m["name"].(string)
	return name, ok
}

func (h *Hub) lookupOwner(tool string) (string, bool) {
	h.toolRoutesMu.RLock()
	defer h.toolRoutesMu.RUnlock()
	name, ok := h.toolRoutes[tool]
	return name, ok
}

// refreshToolRoutes asks every backend for its tool list and rebuilds the
// routing table. It is best-effort: a backend that fails to answer is
// skipped rather than failing the whole refresh.
func (h *Hub) refreshToolRoutes() {
	h.mu.RLock()
	names := make([]string, 0, len(h.backends))
	backends := make(map[string]*backend, len(h.backends))
	for name, b := range h.backends {
		names = append(names, name)
		backends[name] = b
	}
	h.mu.RUnlock()

	routes := make(map[string]string)
	for _, name := range names {
		tools, err := h.listBackendTools(backends[name])
		if err != nil {
			hubLog.Warn("tools_list_forward_failed", slog.String("backend", name), slog.String("error", err.Error()))
			continue
		}
		for _, tool := range tools {
			routes[tool] = name
		}
	}

	h.toolRoutesMu.Lock()
	h.toolRoutes = routes
	h.toolRoutesMu.Unlock()
}

// listBackendTools sends a synchronous tools/list to b and waits up to
// requestTimeout for the response, used only for internal route discovery
// (not a client-facing call).
func (h *Hub) listBackendTools(b *backend) ([]string, error) {
	reqID := fmt.Sprintf("hub-internal-%d", time.Now().UnixNano())
	result := make(chan []byte, 1)

	internalSession := "hub-internal-" + reqID
	b.setDeliver(func(sessionID string, line []byte) {
		if sessionID == internalSession {
			select {
			case result <- line:
			default:
			}
			return
		}
		h.deliverToClient(sessionID, line)
	})
	defer b.setDeliver(h.deliverToClient)

	payload, _ := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", Method: "tools/list", ID: reqID})
	b.handleRequest(internalSession, payload)

	select {
	case line := <-result:
		return parseToolNames(line), nil
	case <-time.After(h.requestTimeout):
		return nil, fmt.Errorf("tools/list timed out after %s", h.requestTimeout)
	}
}

func parseToolNames(line []byte) []string {
	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if json.Unmarshal(line, &resp) != nil {
		return nil
	}
	names := make([]string, 0, len(resp.Result.Tools))
	for _, t := range resp.Result.Tools {
		names = append(names, t.Name)
	}
	return names
}

func (h *Hub) respondToolsList(sessionID string, reqID interface{}) {
	h.refreshToolRoutes()

	h.toolRoutesMu.RLock()
	tools := make([]map[string]string, 0, len(h.toolRoutes))
	for name := range h.toolRoutes {
		tools = append(tools, map[string]string{"name": name})
	}
	h.toolRoutesMu.RUnlock()

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      reqID,
		Result:  map[string]interface{}{"tools": tools},
	}
	h.deliverJSON(sessionID, resp)
}

func (h *Hub) sendError(sessionID string, reqID interface{}, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      reqID,
		Error:   map[string]interface{}{"code": -32601, "message": message},
	}
	h.deliverJSON(sessionID, resp)
}

func (h *Hub) deliverJSON(sessionID string, resp JSONRPCResponse) {
	line, err := json.Marshal(resp)
	if err != nil {
		return
	}
	h.deliverToClient(sessionID, line)
}

func (h *Hub) deliverToClient(sessionID string, line []byte) {
	h.clientsMu.RLock()
	conn, ok := h.clients[sessionID]
	h.clientsMu.RUnlock()
	if !ok {
		return
	}
	_, _ = conn.Write(line)
	_, _ = conn.Write([]byte("\n"))
}

func (h *Hub) broadcastUnroutable(line []byte) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, conn := range h.clients {
		_, _ = conn.Write(line)
		_, _ = conn.Write([]byte("\n"))
	}
}

// Status reports every registered backend's name and lifecycle status. It
// runs no health check.
func (h *Hub) Status() []ServerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]ServerInfo, 0, len(h.backends))
	for name, b := range h.backends {
		infos = append(infos, ServerInfo{Name: name, Status: b.getStatus().String()})
	}
	return infos
}

// SocketPath returns the hub's bound Unix domain socket path.
func (h *Hub) SocketPath() string {
	return h.socketPath
}

// Shutdown stops every backend and closes the shared listener.
func (h *Hub) Shutdown() error {
	h.cancel()

	h.mu.Lock()
	var wg sync.WaitGroup
	for name, b := range h.backends {
		wg.Add(1)
		go func(n string, be *backend) {
			defer wg.Done()
			hubLog.Info("backend_stopping", slog.String("backend", n))
			_ = be.stop()
		}(name, b)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		hubLog.Warn("hub_shutdown_timeout", slog.String("key", h.key))
	}

	if h.listener != nil {
		h.listener.Close()
	}
	_ = os.Remove(h.socketPath)
	return nil
}
