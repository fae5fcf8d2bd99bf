package session

import (
	"bytes"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/csa-dev/csa/internal/csaerr"
)

// ChangedFileAction classifies how a file was touched by a run.
type ChangedFileAction string

const (
	ActionAdd    ChangedFileAction = "add"
	ActionModify ChangedFileAction = "modify"
	ActionDelete ChangedFileAction = "delete"
)

// ChangedFile is one entry of a ReturnPacket's changed_files list.
type ChangedFile struct {
	Path   string `toml:"path"`
	Action ChangedFileAction `toml:"action"`
}

// ReturnPacket is the optional structured outcome a child may emit in a
// `return` output section.
type ReturnPacket struct {
	Status        string `toml:"status"`
	ExitCode      int `toml:"exit_code"`
	Summary       string `toml:"summary"`
	Artifacts     []string `toml:"artifacts,omitempty"`
	ChangedFiles  []ChangedFile `toml:"changed_files,omitempty"`
	GitHeadBefore string `toml:"git_head_before,omitempty"`
	GitHeadAfter  string `toml:"git_head_after,omitempty"`
	NextActions   []string `toml:"next_actions,omitempty"`
	ErrorContext  string `toml:"error_context,omitempty"`
}

// ReturnPacketSummaryMaxLen is the clamp applied to ReturnPacket.Summary.
const ReturnPacketSummaryMaxLen = 1000

// ParseReturnPacket decodes a `return` section's TOML body. Malformed TOML
// or a packet missing its required `status` field degrades to a synthetic
// failure packet rather than propagating a parse error up through the
// pipeline.
func ParseReturnPacket(tomlBody string) *ReturnPacket {
	var rp ReturnPacket
	if _, err := toml.Decode(tomlBody, &rp); err != nil {
		return syntheticFailure("return section parse failure: " + err.Error())
	}
	if rp.Status == "" {
		return syntheticFailure("return section missing required field: status")
	}
	if len(rp.Summary) > ReturnPacketSummaryMaxLen {
		rp.Summary = rp.Summary[:ReturnPacketSummaryMaxLen]
	}
	if err := rp.Validate(); err != nil {
		return syntheticFailure(err.Error())
	}
	return &rp
}

func syntheticFailure(reason string) *ReturnPacket {
	return &ReturnPacket{
		Status: "failure",
		ExitCode: 1,
		Summary: clamp(reason, ReturnPacketSummaryMaxLen),
		ErrorContext: reason,
	}
}

// Validate rejects path traversal in ChangedFiles: no ".." components and
// no absolute paths.
func (rp *ReturnPacket) Validate() error {
	for _, cf := range rp.ChangedFiles {
		if err := validateRelativePath(cf.Path); err != nil {
			return csaerr.NewParseError("return packet changed_files entry invalid: "+cf.Path, err)
		}
	}
	return nil
}

func validateRelativePath(p string) error {
	if p == "" {
		return csaerr.New(csaerr.ParseError, "empty path")
	}
	if strings.HasPrefix(p, "/") {
		return csaerr.New(csaerr.ParseError, "absolute path not allowed: "+p)
	}
	for _, part := range strings.Split(filepathToSlash(p), "/") {
		if part == ".." {
			return csaerr.New(csaerr.ParseError, "path traversal not allowed: "+p)
		}
	}
	return nil
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// EncodeReturnPacket serializes a ReturnPacket back to TOML (used by tests
// and by tools that want to emit a `return` section programmatically).
func EncodeReturnPacket(rp *ReturnPacket) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(rp); err != nil {
		return "", csaerr.NewParseError("encoding return packet", err)
	}
	return buf.String(), nil
}
