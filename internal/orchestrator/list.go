package orchestrator

import "fmt"

// ListFilter selects tasks for ListTasks.
type ListFilter struct {
	// Status, when non-empty, keeps only tasks in that status.
	Status Status `json:"status,omitempty"`

	// SourceID, when non-empty, keeps only tasks for that source.
	SourceID string `json:"sourceId,omitempty"`

	// PageSize <= 0 returns every matching task.
	PageSize int `json:"pageSize,omitempty"`

	// PageToken is the ID of the last task of the previous page.
	PageToken string `json:"pageToken,omitempty"`
}

// TaskPage is one page of ListTasks results.
type TaskPage struct {
	Tasks         []TaskRecord `json:"tasks"`
	TotalSize     int          `json:"totalSize"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
}

// ListTasks returns known tasks in submission order, filtered and paginated.
// Tasks evicted from the terminal history are no longer listed.
func (m *Manager) ListTasks(filter ListFilter) (*TaskPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	startIdx := 0
	if filter.PageToken != "" {
		found := false
		for i, id := range m.order {
			if id == filter.PageToken {
				startIdx = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, &ValidationError{Field: "pageToken", Reason: fmt.Sprintf("invalid page token %q", filter.PageToken)}
		}
	}

	totalBefore := 0
	for i := 0; i < startIdx; i++ {
		if e, ok := m.lookupLocked(m.order[i]); ok && matchesFilter(e, filter) {
			totalBefore++
		}
	}

	var matched []TaskRecord
	for i := startIdx; i < len(m.order); i++ {
		e, ok := m.lookupLocked(m.order[i])
		if !ok || !matchesFilter(e, filter) {
			continue
		}
		matched = append(matched, e.record.clone())
	}

	total := totalBefore + len(matched)

	var next string
	if filter.PageSize > 0 && len(matched) > filter.PageSize {
		next = matched[filter.PageSize-1].ID()
		matched = matched[:filter.PageSize]
	}
	if matched == nil {
		matched = []TaskRecord{}
	}

	return &TaskPage{
		Tasks:         matched,
		TotalSize:     total,
		NextPageToken: next,
	}, nil
}

func matchesFilter(e *taskEntry, filter ListFilter) bool {
	if filter.Status != "" && e.record.Status != filter.Status {
		return false
	}
	if filter.SourceID != "" && e.record.Context.SourceID != filter.SourceID {
		return false
	}
	return true
}
