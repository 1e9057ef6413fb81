// Package stats reconciles storage-listed files against recorded data-record
// nodes and summarizes validation outcomes per node type.
package stats

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"datahub/api/internal/store"
)

// FileNodeName is the node type under which file reconciliation is reported.
const FileNodeName = "file"

// Stat is one derived per-node-type summary. Total is always recomputed as
// the bucket sum and never trusted from storage.
type Stat struct {
	NodeName string `json:"nodeName"`
	Total    int    `json:"total"`
	New      int    `json:"new"`
	Passed   int    `json:"passed"`
	Warning  int    `json:"warning"`
	Error    int    `json:"error"`
}

// Count adds n to the bucket matching status and to the total. Unknown status
// values are silently ignored, neither counted nor rejected, so new upstream
// statuses don't break aggregation. Negative increments are applied as-is.
func (s *Stat) Count(status string, n int) {
	switch status {
	case store.RecordNew:
		s.New += n
	case store.RecordPassed:
		s.Passed += n
	case store.RecordWarning:
		s.Warning += n
	case store.RecordError:
		s.Error += n
	default:
		return
	}
	s.Total += n
}

type recordSource interface {
	NodeStatusCounts(ctx context.Context, submissionID string, validStatuses []string) ([]store.NodeStatusCount, error)
	ListFileRecords(ctx context.Context, submissionID string, statuses []string) ([]store.DataRecord, error)
}

type keyLister interface {
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
}

type Aggregator struct {
	records recordSource
	objects keyLister
}

func New(records recordSource, objects keyLister) *Aggregator {
	return &Aggregator{records: records, objects: objects}
}

// NodeStats groups the submission's data records by (nodeType, status) and
// folds the buckets into one Stat per node type, ordered by node name.
func (a *Aggregator) NodeStats(ctx context.Context, submissionID string, validStatuses []string) ([]Stat, error) {
	counts, err := a.records.NodeStatusCounts(ctx, submissionID, validStatuses)
	if err != nil {
		return nil, fmt.Errorf("node stats %s: %w", submissionID, err)
	}
	byType := make(map[string]*Stat)
	for _, row := range counts {
		stat, ok := byType[row.NodeType]
		if !ok {
			stat = &Stat{NodeName: row.NodeType}
			byType[row.NodeType] = stat
		}
		stat.Count(row.Status, row.Count)
	}
	names := make([]string, 0, len(byType))
	for name := range byType {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Stat, 0, len(names))
	for _, name := range names {
		out = append(out, *byType[name])
	}
	return out, nil
}

// FileStats reconciles the submission's storage-listed keys against its
// recorded file entries and produces the single "file" Stat row:
//
//   - orphaned keys (no matching record) count as errors when the submission's
//     file validation already ran, as new when it has not;
//   - recorded entries count by their status field;
//   - recorded entries whose storage object no longer exists count as errors.
//
// The row is emitted only when its total is positive; callers get nil
// otherwise. The read is a point-in-time snapshot without cross-entity
// isolation — a record mutated mid-aggregation may be off by one unit, which
// is accepted as eventual-consistency reporting.
func (a *Aggregator) FileStats(ctx context.Context, submission store.Submission) (*Stat, error) {
	keys, err := a.objects.ListKeys(ctx, submission.BucketName, submission.RootPath)
	if err != nil {
		return nil, fmt.Errorf("list storage keys %s: %w", submission.ID, err)
	}
	records, err := a.records.ListFileRecords(ctx, submission.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("list file records %s: %w", submission.ID, err)
	}

	stored := make(map[string]bool, len(keys))
	for _, key := range keys {
		stored[fileNameFromKey(submission.RootPath, key)] = true
	}
	recorded := make(map[string]bool, len(records))
	for _, record := range records {
		recorded[record.FileName] = true
	}

	stat := &Stat{NodeName: FileNodeName}

	validated := submissionFilesValidated(submission)
	for name := range stored {
		if recorded[name] {
			continue
		}
		if validated {
			stat.Count(store.RecordError, 1)
		} else {
			stat.Count(store.RecordNew, 1)
		}
	}

	for _, record := range records {
		status := record.FileStatus
		if status == "" {
			status = record.Status
		}
		stat.Count(status, 1)
		if !stored[record.FileName] {
			stat.Count(store.RecordError, 1)
		}
	}

	if stat.Total <= 0 {
		return nil, nil
	}
	return stat, nil
}

// submissionFilesValidated reports whether submission-level file validation
// has produced an outcome; orphans found afterwards are validation errors
// rather than not-yet-validated uploads.
func submissionFilesValidated(submission store.Submission) bool {
	switch submission.FileValidationStatus {
	case store.RecordPassed, store.RecordWarning, store.RecordError:
		return true
	default:
		return false
	}
}

func fileNameFromKey(rootPath, key string) string {
	trimmed := strings.TrimPrefix(key, rootPath)
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return path.Base(key)
	}
	return trimmed
}
