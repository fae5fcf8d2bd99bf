package slot

// TryPriorityFallback implements this module's "Tool priority fallback":
// when the requested tool's slots are exhausted, try the next enabled
// tool in priority order, skipping any tool already attempted, until one
// succeeds or the list is exhausted.
//
// maxByTool maps tool name to its configured max_concurrent; a tool absent
// from the map is treated as not enabled and skipped.
func TryPriorityFallback(runtimeDir string, priority []string, maxByTool map[string]int) (*Guard, string, error) {
	tried := make(map[string]bool, len(priority))
	var lastErr error

	for _, tool := range priority {
		if tried[tool] {
			continue
		}
		tried[tool] = true

		max, enabled := maxByTool[tool]
		if !enabled {
			continue
		}

		guard, _, err := TryAcquireSlot(runtimeDir, tool, max)
		if err == nil {
			return guard, tool, nil
		}
		lastErr = err
	}

	return nil, "", lastErr
}
