package session

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/csa-dev/csa/internal/csaerr"
)

// OutputSection is one entry of output/index.toml.
type OutputSection struct {
	ID              string `toml:"id"`
	Path            string `toml:"path"`
	ByteCount       int64 `toml:"byte_count"`
	EstimatedTokens int `toml:"estimated_tokens"`
}

// OutputIndex is the full contents of output/index.toml.
type OutputIndex struct {
	Total    int `toml:"total"`
	Sections []OutputSection `toml:"sections"`
}

// sectionMarker matches both the opening and closing CSA:SECTION comment,
// capturing the id and whether it's the END variant.
var sectionMarker = regexp.MustCompile(`<!--\s*CSA:SECTION:([A-Za-z0-9_-]+)(:END)?\s*-->`)

// ParseSections splits raw stdout into named sections delimited by
// CSA:SECTION comment markers. Content outside any marker pair, and all
// content when no markers appear at all, becomes a single section named
// "full".
func ParseSections(stdout string) map[string]string {
	locs := sectionMarker.FindAllStringSubmatchIndex(stdout, -1)
	if len(locs) == 0 {
		return map[string]string{"full": stdout}
	}

	sections := make(map[string]string)
	var openID string
	var openStart int
	var preamble strings.Builder

	cursor := 0
	for _, loc := range locs {
		matchStart, matchEnd := loc[0], loc[1]
		idStart, idEnd := loc[2], loc[3]
		isEnd := loc[4] != -1

		id := stdout[idStart:idEnd]

		if openID == "" {
			// Text between cursor and this marker belongs to no open
			// section; if it's an opening marker, stash it as preamble.
			preamble.WriteString(stdout[cursor:matchStart])
			if !isEnd {
				openID    = id
				openStart = matchEnd
			}
		} else if isEnd && id == openID {
			sections[openID] = stdout[openStart:matchStart]
			openID = ""
		}
		// A mismatched or nested marker is ignored; the section simply
		// continues to accumulate until its matching END arrives.
		cursor = matchEnd
	}

	if openID != "" {
		// Unterminated section: take everything through EOF.
		sections[openID] = stdout[openStart:]
	}

	tail := preamble.String() + stdout[cursor:]
	if strings.TrimSpace(tail) != "" {
		sections["full"] = tail
	}

	return sections
}

// EstimateTokens implements this module's word-count heuristic: words × 4/3.
func EstimateTokens(text string) int {
	words  := len(strings.Fields(text))
	return words * 4 / 3
}

// WriteStructuredOutput parses stdout into sections, writes one
// output/<id>.md file per section, and writes output/index.toml describing
// them all in encounter order.
func WriteStructuredOutput(sessionDir, stdout string) (*OutputIndex, error) {
	outDir := filepath.Join(sessionDir, "output")
	if err := ensureDir(outDir); err != nil {
		return nil, csaerr.NewIoError("creating output directory", err)
	}

	sections := ParseSections(stdout)
	order    := sectionOrder(stdout, sections)

	index := &OutputIndex{}
	for _, id := range order {
		body    := sections[id]
		relPath := id + ".md"
		if err := os.WriteFile(filepath.Join(outDir, relPath), []byte(body), 0o644); err != nil {
			return nil, csaerr.NewIoError("writing section file "+relPath, err)
		}
		tokens := EstimateTokens(body)
		index.Sections = append(index.Sections, OutputSection{
			ID: id,
			Path: filepath.Join("output", relPath),
			ByteCount: int64(len(body)),
			EstimatedTokens: tokens,
		})
		index.Total += tokens
	}

	if err := writeIndexFile(outDir, index); err != nil {
		return nil, err
	}
	return index, nil
}

// sectionOrder returns section ids in the order their first marker appears
// in stdout, followed by "full" (content outside any section) when it is
// present. A lone section is returned as is.
func sectionOrder(stdout string, sections map[string]string) []string {
	if len(sections) == 1 {
		for id := range sections {
			return []string{id}
		}
	}

	type posID struct {
		id  string
		pos int
	}
	var ordered []posID
	seen := make(map[string]bool)

	for _, loc := range sectionMarker.FindAllStringSubmatchIndex(stdout, -1) {
		id := stdout[loc[2]:loc[3]]
		if sections[id] != "" && !seen[id] {
			seen[id] = true
			ordered = append(ordered, posID{id, loc[0]})
		}
	}
	if body, ok := sections["full"]; ok && !seen["full"] && body != "" {
		ordered = append(ordered, posID{"full", len(stdout)})
	}

	result := make([]string, len(ordered))
	for i, p := range ordered {
		result[i] = p.id
	}
	return result
}

func writeIndexFile(outDir string, index *OutputIndex) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(index); err != nil {
		return csaerr.NewParseError("encoding output index", err)
	}
	tmp   := filepath.Join(outDir, "index.toml.tmp")
	final := filepath.Join(outDir, "index.toml")
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return csaerr.NewIoError("writing index.toml temp file", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return csaerr.NewIoError("renaming index.toml into place", err)
	}
	return nil
}

// LoadOutputIndex reads back a previously written output/index.toml, used
// by the soft-fork context assembler.
func LoadOutputIndex(sessionDir string) (*OutputIndex, error) {
	path := filepath.Join(sessionDir, "output", "index.toml")
	var index OutputIndex
	if _, err := toml.DecodeFile(path, &index); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, csaerr.NewParseError("parsing output index", err)
	}
	return &index, nil
}

// ReadSection reads back one section file previously written by
// WriteStructuredOutput, or ("", nil) if that section was never produced.
func ReadSection(sessionDir, id string) (string, error) {
	path := filepath.Join(sessionDir, "output", id+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", csaerr.NewIoError("reading section file "+id+".md", err)
	}
	return string(data), nil
}
