package store

import (
	"encoding/json"
	"time"
)

// Submission statuses. Deleted is a housekeeping-only terminal marker and is
// excluded from the active whitelist.
const (
	StatusNew        = "New"
	StatusInProgress = "In Progress"
	StatusSubmitted  = "Submitted"
	StatusReleased   = "Released"
	StatusCompleted  = "Completed"
	StatusArchived   = "Archived"
	StatusWithdrawn  = "Withdrawn"
	StatusRejected   = "Rejected"
	StatusCanceled   = "Canceled"
	StatusDeleted    = "Deleted"
)

// ActiveStatuses is the default listing whitelist: everything except Deleted.
func ActiveStatuses() []string {
	return []string{
		StatusNew, StatusInProgress, StatusSubmitted, StatusReleased,
		StatusCompleted, StatusArchived, StatusWithdrawn, StatusRejected,
		StatusCanceled,
	}
}

// Data record validation outcomes.
const (
	RecordNew     = "New"
	RecordPassed  = "Passed"
	RecordWarning = "Warning"
	RecordError   = "Error"
)

// Collaborator permissions.
const (
	PermCanView = "Can View"
	PermCanEdit = "Can Edit"
)

type Submission struct {
	ID                       string
	Name                     string
	Status                   string
	StudyID                  string
	ExternalID               string
	DataCommons              string
	SubmitterID              string
	SubmitterName            string
	OrganizationID           string
	OrganizationName         string
	BucketName               string
	RootPath                 string
	MetadataValidationStatus string
	FileValidationStatus     string
	Collaborators            []Collaborator
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

type Collaborator struct {
	CollaboratorID   string `json:"collaboratorID"`
	CollaboratorName string `json:"collaboratorName"`
	Permission       string `json:"permission"`
}

// HistoryEvent is one immutable audit entry. Rows are append-only; the latest
// row's status always equals the submission's current status.
type HistoryEvent struct {
	ID           int64
	SubmissionID string
	Status       string
	UserID       string
	Comment      string
	CreatedAt    time.Time
}

type User struct {
	ID             string
	Name           string
	Role           string
	Status         string
	OrganizationID string
	Studies        []string
	DataCommons    []string
}

// UserActive is the status a collaborator must hold to be added.
const UserActive = "Active"

// DataRecord is one ingested metadata or file node. Records are written by the
// external validation pipeline; this core only reads and aggregates them.
type DataRecord struct {
	ID           string
	SubmissionID string
	NodeType     string
	NodeID       string
	Status       string
	FileName     string
	FileStatus   string
	Props        json.RawMessage
	Parents      json.RawMessage
	Raw          json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NodeStatusCount is one (nodeType, status) bucket from the grouping query.
type NodeStatusCount struct {
	NodeType string
	Status   string
	Count    int
}

// ListParams describes one scoped, filtered listing query. Scope restrictions
// (StudyIDs, DataCommons, OwnerID) are filled in by the service after scope
// resolution; free filters come from the caller.
type ListParams struct {
	Statuses      []string
	Name          string
	ExternalID    string
	DataCommons   []string
	StudyIDs      []string
	Organization  string
	SubmitterName string
	IDs           []string
	// OwnerID restricts to submissions the actor owns or edit-collaborates on.
	OwnerID string

	First         int
	Offset        int
	OrderBy       string
	SortDirection string
}
