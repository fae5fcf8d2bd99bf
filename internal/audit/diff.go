package audit

import "sort"

// Diff buckets a scan's current path→hash map against a loaded manifest.
type Diff struct {
	New       []string
	Modified  []string
	Deleted   []string
	Unchanged []string
}

// DiffManifest compares manifest's recorded hashes against current
// (path → hash from a fresh scan), classifying each path.
func DiffManifest(manifest *AuditManifest, current map[string]string) Diff {
	var d Diff
	for path, hash := range current {
		entry, tracked := manifest.Files[path]
		switch {
		case !tracked:
			d.New = append(d.New, path)
		case entry.Hash != hash:
			d.Modified = append(d.Modified, path)
		default:
			d.Unchanged = append(d.Unchanged, path)
		}
	}
	for path := range manifest.Files {
		if _, present := current[path]; !present {
			d.Deleted = append(d.Deleted, path)
		}
	}

	sort.Strings(d.New)
	sort.Strings(d.Modified)
	sort.Strings(d.Deleted)
	sort.Strings(d.Unchanged)
	return d
}
