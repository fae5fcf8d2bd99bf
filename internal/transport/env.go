package transport

import "fmt"

// EnvVars builds the CSA_* environment variables injected into every tool
// invocation, giving the child process (and any hooks it shells out to)
// session identity without needing to parse argv.
type EnvVars struct {
	SessionID       string
	ProjectKey      string
	ToolName        string
	SessionDir      string
	ParentSessionID string
	MCPProxySocket  string // empty when the MCP Proxy Hub is disabled
	HeartbeatSecs   int    // 0 uses the tool's own default
}

// ToSlice renders EnvVars as "KEY=VALUE" entries suitable for exec.Cmd.Env.
func (e EnvVars) ToSlice() []string {
	vars := []string{
		"CSA_SESSION_ID=" + e.SessionID,
		"CSA_PROJECT_KEY=" + e.ProjectKey,
		"CSA_TOOL_NAME=" + e.ToolName,
		"CSA_SESSION_DIR=" + e.SessionDir,
	}
	if e.ParentSessionID != "" {
		vars = append(vars, "CSA_PARENT_SESSION_ID="+e.ParentSessionID)
	}
	if e.MCPProxySocket != "" {
		vars = append(vars, "CSA_MCP_PROXY_SOCKET="+e.MCPProxySocket)
	}
	if e.HeartbeatSecs > 0 {
		vars = append(vars, fmt.Sprintf("%s=%d", HeartbeatIntervalEnv, e.HeartbeatSecs))
	}
	return vars
}
