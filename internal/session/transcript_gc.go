package session

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

const transcriptRelPath = "output/acp-events.jsonl"

const bytesPerMegabyte = 1024 * 1024

type transcriptFile struct {
	sessionID string
	path      string
	sizeBytes uint64
	modified  time.Time
}

// TranscriptCleanupStats summarizes one CleanupTranscripts run.
type TranscriptCleanupStats struct {
	FilesRemoved   int
	BytesReclaimed uint64
}

// CleanupTranscripts enforces cfg's transcript retention over every
// session's output/acp-events.jsonl: files older than
// TranscriptMaxAgeDays are removed outright, then the oldest surviving
// files are removed (oldest first) until the total is back under
// TranscriptMaxSizeMB. dryRun reports what would be removed without
// touching the filesystem.
func CleanupTranscripts(store *Store, cfg GcConfig, dryRun bool) (TranscriptCleanupStats, error) {
	var stats TranscriptCleanupStats

	ids, err := store.List()
	if err != nil {
		return stats, err
	}

	files := collectTranscriptFiles(store, ids)
	maxSizeBytes := cfg.TranscriptMaxSizeMB * bytesPerMegabyte
	candidates := planTranscriptCleanup(files, time.Now(), cfg.TranscriptMaxAgeDays, maxSizeBytes)

	for _, f := range candidates {
		if !dryRun {
			if err := os.Remove(f.path); err != nil {
				continue
			}
		}
		stats.FilesRemoved++
		stats.BytesReclaimed += f.sizeBytes
	}
	return stats, nil
}

func collectTranscriptFiles(store *Store, ids []string) []transcriptFile {
	files := make([]transcriptFile, 0, len(ids))
	for _, id := range ids {
		path := filepath.Join(store.SessionDir(id), transcriptRelPath)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, transcriptFile{
			sessionID: id,
			path:      path,
			sizeBytes: uint64(info.Size()),
			modified:  info.ModTime(),
		})
	}
	return files
}

func planTranscriptCleanup(files []transcriptFile, now time.Time, maxAgeDays uint64, maxSizeBytes uint64) []transcriptFile {
	sorted := make([]transcriptFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].modified.Before(sorted[j].modified) })

	var removals, survivors []transcriptFile
	for _, f := range sorted {
		if isTranscriptExpired(now, f.modified, maxAgeDays) {
			removals = append(removals, f)
		} else {
			survivors = append(survivors, f)
		}
	}

	var survivorTotal uint64
	for _, f := range survivors {
		survivorTotal += f.sizeBytes
	}
	for _, f := range survivors {
		if survivorTotal <= maxSizeBytes {
			break
		}
		survivorTotal -= f.sizeBytes
		removals = append(removals, f)
	}
	return removals
}

func isTranscriptExpired(now, modified time.Time, maxAgeDays uint64) bool {
	maxAge := time.Duration(maxAgeDays) * 24 * time.Hour
	return now.Sub(modified) > maxAge
}
