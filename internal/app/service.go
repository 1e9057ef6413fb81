package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"datahub/api/internal/config"
	"datahub/api/internal/dispatch"
	"datahub/api/internal/scope"
	"datahub/api/internal/search"
	"datahub/api/internal/stats"
	"datahub/api/internal/store"
	"datahub/api/internal/util"
)

// dataStore is the persistence surface the service needs. *store.PostgresStore
// satisfies it; tests substitute a fake.
type dataStore interface {
	GetUser(ctx context.Context, userID string) (store.User, error)
	InsertSubmission(ctx context.Context, item store.Submission) error
	GetSubmission(ctx context.Context, submissionID string) (store.Submission, error)
	ListSubmissions(ctx context.Context, params store.ListParams) ([]store.Submission, int, error)
	ListHistory(ctx context.Context, submissionID string) ([]store.HistoryEvent, error)
	TransitionStatus(ctx context.Context, submissionID string, expected []string, next, userID, comment string) (bool, error)
	ReplaceCollaborators(ctx context.Context, submissionID string, collaborators []store.Collaborator) error
	SetValidationStatus(ctx context.Context, submissionID, metadataStatus, fileStatus string) error
	Ping(ctx context.Context) error
}

// validator dispatches validation and export requests to the worker queues.
type validator interface {
	Dispatch(ctx context.Context, submissionID string, types []string, validationScope, validationID string) (dispatch.Result, error)
	ExportMetadata(ctx context.Context, submissionID string) dispatch.ExportResult
}

// statsSource aggregates per-node validation statistics.
type statsSource interface {
	NodeStats(ctx context.Context, submissionID string, validStatuses []string) ([]stats.Stat, error)
	FileStats(ctx context.Context, submission store.Submission) (*stats.Stat, error)
}

// submissionIndex is the optional full-text index. Indexing is fire-and-forget.
type submissionIndex interface {
	Search(q search.Query) search.Response
	IndexSubmission(rec search.SubmissionRecord)
	DeleteSubmission(id string)
}

// Service implements the submission lifecycle: creation, scoped listing,
// status transitions with an append-only audit trail, collaborator management,
// validation dispatch and statistics.
type Service struct {
	cfg        config.Config
	store      dataStore
	scopes     *scope.Resolver
	dispatcher validator
	stats      statsSource
	index      submissionIndex // nil when search is not configured
	notifier   Notifier
}

func New(cfg config.Config, st *store.PostgresStore, scopes *scope.Resolver, dispatcher *dispatch.Dispatcher, aggregator *stats.Aggregator, index *search.Service, notifier Notifier) *Service {
	svc := &Service{
		cfg:        cfg,
		store:      st,
		scopes:     scopes,
		dispatcher: dispatcher,
		stats:      aggregator,
		notifier:   notifier,
	}
	if index != nil {
		svc.index = index
	}
	if notifier == nil {
		svc.notifier = NoopNotifier{}
	}
	return svc
}

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func scopeError(err error) error {
	switch {
	case errors.Is(err, scope.ErrNoGrant):
		return forbiddenError("you do not have permission to perform this action")
	case errors.Is(err, scope.ErrNoStudies):
		return forbiddenError("no study is assigned to your account")
	default:
		return err
	}
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// entityInScope checks a resolved scope against one concrete submission.
// For OWN scope ownership means submitter or edit-permission collaborator,
// and the study restriction still applies unless the sentinel lifts it.
func entityInScope(actor scope.Actor, userScope scope.UserScope, sub store.Submission) bool {
	switch userScope.Kind {
	case scope.ScopeAll:
		return true
	case scope.ScopeDataCommons:
		return contains(userScope.Values, sub.DataCommons)
	case scope.ScopeStudy:
		return actor.HasAllStudies() || contains(userScope.Values, sub.StudyID)
	case scope.ScopeOwn:
		if !actor.HasAllStudies() && !contains(userScope.Values, sub.StudyID) {
			return false
		}
		if sub.SubmitterID == actor.ID {
			return true
		}
		for _, c := range sub.Collaborators {
			if c.CollaboratorID == actor.ID && c.Permission == store.PermCanEdit {
				return true
			}
		}
		return false
	default:
		return false
	}
}

type CreateSubmissionInput struct {
	Name        string `json:"name"`
	StudyID     string `json:"studyID"`
	DataCommons string `json:"dataCommons"`
	ExternalID  string `json:"externalID"`
}

// CreateSubmission opens a new submission in status New and writes its first
// history row. The actor must hold the create capability, belong to an
// organization, and have access to the target study.
func (s *Service) CreateSubmission(ctx context.Context, actor scope.Actor, in CreateSubmissionInput) (store.Submission, error) {
	userScope, err := s.scopes.Resolve(actor, scope.CapCreate)
	if err != nil {
		return store.Submission{}, scopeError(err)
	}
	if actor.OrganizationID == "" {
		return store.Submission{}, noOrganizationError()
	}

	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return store.Submission{}, validationError("submission name is required", nil)
	}
	if in.StudyID == "" {
		return store.Submission{}, validationError("study is required", nil)
	}
	if in.DataCommons == "" {
		return store.Submission{}, validationError("data commons is required", nil)
	}

	switch userScope.Kind {
	case scope.ScopeOwn, scope.ScopeStudy:
		if !actor.HasAllStudies() && !contains(userScope.Values, in.StudyID) {
			return store.Submission{}, forbiddenError("study is not assigned to your account")
		}
	case scope.ScopeDataCommons:
		if !contains(userScope.Values, in.DataCommons) {
			return store.Submission{}, forbiddenError("data commons is not assigned to your account")
		}
	}

	id := util.NewID("sub")
	sub := store.Submission{
		ID:               id,
		Name:             in.Name,
		Status:           store.StatusNew,
		StudyID:          in.StudyID,
		ExternalID:       in.ExternalID,
		DataCommons:      in.DataCommons,
		SubmitterID:      actor.ID,
		SubmitterName:    actor.Name,
		OrganizationID:   actor.OrganizationID,
		OrganizationName: actor.OrganizationName,
		BucketName:       s.cfg.StorageBucket,
		RootPath:         id,
	}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return store.Submission{}, fmt.Errorf("create submission: %w", err)
	}

	created, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return store.Submission{}, fmt.Errorf("reload created submission: %w", err)
	}
	s.indexSubmission(created)
	return created, nil
}

// AcceptBatch moves a submission into In Progress when an upload batch lands.
// Already In Progress is an idempotent no-op: no write, no history row. The
// conditional update linearizes racing batches, and a loser whose submission
// now sits In Progress is treated the same as the no-op case.
func (s *Service) AcceptBatch(ctx context.Context, actor scope.Actor, submissionID string) (store.Submission, error) {
	userScope, err := s.scopes.Resolve(actor, scope.CapCreate)
	if err != nil {
		return store.Submission{}, scopeError(err)
	}
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Submission{}, notFoundError("submission not found")
	}
	if err != nil {
		return store.Submission{}, err
	}
	if !entityInScope(actor, userScope, sub) {
		return store.Submission{}, forbiddenError("submission is outside your scope")
	}

	if sub.Status == store.StatusInProgress {
		return sub, nil
	}

	expected := []string{store.StatusNew, store.StatusWithdrawn, store.StatusRejected}
	if !contains(expected, sub.Status) {
		return store.Submission{}, conflictError(fmt.Sprintf("cannot accept a batch while submission is %s", sub.Status))
	}

	swapped, err := s.store.TransitionStatus(ctx, submissionID, expected, store.StatusInProgress, actor.ID, "batch upload")
	if err != nil {
		return store.Submission{}, err
	}

	current, err := s.store.GetSubmission(ctx, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Submission{}, notFoundError("submission not found")
	}
	if err != nil {
		return store.Submission{}, err
	}
	if !swapped && current.Status != store.StatusInProgress {
		return store.Submission{}, conflictError(fmt.Sprintf("submission moved to %s concurrently", current.Status))
	}
	if swapped {
		s.notifier.SubmissionStateChanged(ctx, current, sub.Status, actor)
		s.indexSubmission(current)
	}
	return current, nil
}

type ListInput struct {
	Statuses      []string
	Name          string
	ExternalID    string
	DataCommons   string
	StudyID       string
	Organization  string
	SubmitterName string
	First         int
	Offset        int
	OrderBy       string
	SortDirection string
}

type ListResult struct {
	Items []store.Submission `json:"items"`
	Total int                `json:"total"`
}

// listSortFields mirrors the store whitelist so an unknown sort key is a
// caller error rather than a silent default.
var listSortFields = map[string]bool{
	"name": true, "status": true, "dataCommons": true, "studyID": true,
	"submitterName": true, "createdAt": true, "updatedAt": true, "id": true,
}

// ListSubmissions returns the scoped, filtered page. Requested filters are
// intersected with the resolved scope and never widen it: a filter value
// outside the scope simply contributes nothing, and an empty intersection
// falls back to the scope's own values.
func (s *Service) ListSubmissions(ctx context.Context, actor scope.Actor, in ListInput) (ListResult, error) {
	userScope, err := s.scopes.Resolve(actor, scope.CapView)
	if err != nil {
		return ListResult{}, scopeError(err)
	}

	active := store.ActiveStatuses()
	for _, status := range in.Statuses {
		if !contains(active, status) {
			return ListResult{}, validationError(fmt.Sprintf("unknown status %q", status), nil)
		}
	}
	if in.First < -1 {
		return ListResult{}, validationError("first must be -1 or a non-negative page size", nil)
	}
	if in.OrderBy != "" && !listSortFields[in.OrderBy] {
		return ListResult{}, validationError(fmt.Sprintf("cannot sort by %q", in.OrderBy), nil)
	}
	if in.SortDirection != "" && !strings.EqualFold(in.SortDirection, "asc") && !strings.EqualFold(in.SortDirection, "desc") {
		return ListResult{}, validationError("sort direction must be asc or desc", nil)
	}

	params := store.ListParams{
		Name:          in.Name,
		ExternalID:    in.ExternalID,
		Organization:  in.Organization,
		SubmitterName: in.SubmitterName,
		First:         in.First,
		Offset:        in.Offset,
		OrderBy:       in.OrderBy,
		SortDirection: in.SortDirection,
	}
	params.Statuses = in.Statuses
	if len(params.Statuses) == 0 {
		params.Statuses = active
	}

	if emptyScopeValues(actor, userScope) {
		return ListResult{Items: []store.Submission{}, Total: 0}, nil
	}
	applyScopeFilters(&params, actor, userScope, in.DataCommons, in.StudyID)

	items, total, err := s.store.ListSubmissions(ctx, params)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// emptyScopeValues reports a value-bound scope whose assignment list is
// empty. Such a scope matches nothing; building a query without the values
// would drop the restriction entirely and return every submission instead.
func emptyScopeValues(actor scope.Actor, userScope scope.UserScope) bool {
	switch userScope.Kind {
	case scope.ScopeDataCommons:
		return len(userScope.Values) == 0
	case scope.ScopeStudy, scope.ScopeOwn:
		return !actor.HasAllStudies() && len(userScope.Values) == 0
	}
	return false
}

// applyScopeFilters reconciles the caller's free dataCommons/study filters
// with the resolved scope and writes the effective restrictions into params.
func applyScopeFilters(params *store.ListParams, actor scope.Actor, userScope scope.UserScope, dataCommons, studyID string) {
	switch userScope.Kind {
	case scope.ScopeAll:
		if dataCommons != "" {
			params.DataCommons = []string{dataCommons}
		}
		if studyID != "" {
			params.StudyIDs = []string{studyID}
		}
	case scope.ScopeDataCommons:
		params.DataCommons = narrow(userScope.Values, dataCommons)
		if studyID != "" {
			params.StudyIDs = []string{studyID}
		}
	case scope.ScopeStudy:
		if actor.HasAllStudies() {
			if studyID != "" {
				params.StudyIDs = []string{studyID}
			}
		} else {
			params.StudyIDs = narrow(userScope.Values, studyID)
		}
		if dataCommons != "" {
			params.DataCommons = []string{dataCommons}
		}
	case scope.ScopeOwn:
		params.OwnerID = actor.ID
		if actor.HasAllStudies() {
			if studyID != "" {
				params.StudyIDs = []string{studyID}
			}
		} else {
			params.StudyIDs = narrow(userScope.Values, studyID)
		}
		if dataCommons != "" {
			params.DataCommons = []string{dataCommons}
		}
	}
}

// narrow intersects a single requested value with the scope's values. A value
// outside the scope, or no value at all, yields the scope values unchanged —
// the restriction can only tighten, never widen.
func narrow(scopeValues []string, requested string) []string {
	if requested != "" && contains(scopeValues, requested) {
		return []string{requested}
	}
	return scopeValues
}

type SubmissionDetail struct {
	Submission store.Submission     `json:"submission"`
	History    []store.HistoryEvent `json:"history"`
}

// GetSubmission returns one submission with its full audit history, oldest
// entry first.
func (s *Service) GetSubmission(ctx context.Context, actor scope.Actor, submissionID string) (SubmissionDetail, error) {
	userScope, err := s.scopes.Resolve(actor, scope.CapView)
	if err != nil {
		return SubmissionDetail{}, scopeError(err)
	}
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return SubmissionDetail{}, notFoundError("submission not found")
	}
	if err != nil {
		return SubmissionDetail{}, err
	}
	if !entityInScope(actor, userScope, sub) {
		return SubmissionDetail{}, forbiddenError("submission is outside your scope")
	}
	history, err := s.store.ListHistory(ctx, submissionID)
	if err != nil {
		return SubmissionDetail{}, err
	}
	return SubmissionDetail{Submission: sub, History: history}, nil
}

// EditCollaborators replaces the submission's collaborator list. Only the
// submitter (or an actor holding a wider manage-collaborators grant) may
// edit. New collaborators must be active Submitter-role users with access to
// the submission's study; collaborators already present are re-accepted
// without those checks so the edit stays idempotent.
func (s *Service) EditCollaborators(ctx context.Context, actor scope.Actor, submissionID string, collaborators []store.Collaborator) ([]store.Collaborator, error) {
	userScope, err := s.scopes.Resolve(actor, scope.CapCollaborators)
	if err != nil {
		return nil, scopeError(err)
	}
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("submission not found")
	}
	if err != nil {
		return nil, err
	}
	if userScope.Kind == scope.ScopeOwn && sub.SubmitterID != actor.ID {
		return nil, forbiddenError("only the submitter can manage collaborators")
	}
	if !entityInScope(actor, userScope, sub) && sub.SubmitterID != actor.ID {
		return nil, forbiddenError("submission is outside your scope")
	}

	existing := make(map[string]store.Collaborator, len(sub.Collaborators))
	for _, c := range sub.Collaborators {
		existing[c.CollaboratorID] = c
	}

	seen := make(map[string]bool, len(collaborators))
	next := make([]store.Collaborator, 0, len(collaborators))
	for _, c := range collaborators {
		if c.Permission != store.PermCanView && c.Permission != store.PermCanEdit {
			return nil, validationError(fmt.Sprintf("unknown collaborator permission %q", c.Permission), nil)
		}
		if c.CollaboratorID == "" {
			return nil, validationError("collaborator id is required", nil)
		}
		if c.CollaboratorID == sub.SubmitterID {
			return nil, validationError("the submitter cannot be added as a collaborator", nil)
		}
		if seen[c.CollaboratorID] {
			continue
		}
		seen[c.CollaboratorID] = true

		if current, ok := existing[c.CollaboratorID]; ok {
			if c.CollaboratorName == "" {
				c.CollaboratorName = current.CollaboratorName
			}
		} else {
			user, err := s.store.GetUser(ctx, c.CollaboratorID)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, notFoundError(fmt.Sprintf("collaborator %s not found", c.CollaboratorID))
			}
			if err != nil {
				return nil, err
			}
			if user.Status != store.UserActive {
				return nil, validationError(fmt.Sprintf("collaborator %s is not an active user", c.CollaboratorID), nil)
			}
			if user.Role != string(scope.RoleSubmitter) {
				return nil, validationError(fmt.Sprintf("collaborator %s must hold the Submitter role", c.CollaboratorID), nil)
			}
			if !contains(user.Studies, scope.StudyAll) && !contains(user.Studies, sub.StudyID) {
				return nil, validationError(fmt.Sprintf("collaborator %s has no access to study %s", c.CollaboratorID, sub.StudyID), nil)
			}
			c.CollaboratorName = user.Name
		}
		next = append(next, c)
	}

	if err := s.store.ReplaceCollaborators(ctx, submissionID, next); err != nil {
		return nil, err
	}
	updated, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return updated.Collaborators, nil
}

// Review actions.
const (
	ActionSubmit   = "Submit"
	ActionRelease  = "Release"
	ActionComplete = "Complete"
	ActionArchive  = "Archive"
	ActionWithdraw = "Withdraw"
	ActionReject   = "Reject"
	ActionCancel   = "Cancel"
)

type transition struct {
	expected   []string
	next       string
	capability scope.Capability
}

var transitions = map[string]transition{
	ActionSubmit:   {[]string{store.StatusInProgress}, store.StatusSubmitted, scope.CapCreate},
	ActionRelease:  {[]string{store.StatusSubmitted}, store.StatusReleased, scope.CapReview},
	ActionComplete: {[]string{store.StatusReleased}, store.StatusCompleted, scope.CapConfirm},
	ActionArchive:  {[]string{store.StatusCompleted}, store.StatusArchived, scope.CapConfirm},
	ActionWithdraw: {[]string{store.StatusSubmitted}, store.StatusWithdrawn, scope.CapCreate},
	ActionReject:   {[]string{store.StatusSubmitted, store.StatusReleased}, store.StatusRejected, scope.CapReview},
	ActionCancel:   {[]string{store.StatusNew, store.StatusInProgress}, store.StatusCanceled, scope.CapCancel},
}

// ReviewAction applies one named lifecycle transition. The status change and
// its history row commit atomically; when two actors race, the first writer
// wins and the loser gets a conflict.
func (s *Service) ReviewAction(ctx context.Context, actor scope.Actor, submissionID, action, comment string) (store.Submission, error) {
	tr, ok := transitions[action]
	if !ok {
		return store.Submission{}, validationError(fmt.Sprintf("unknown action %q", action), nil)
	}

	userScope, err := s.scopes.Resolve(actor, tr.capability)
	if err != nil {
		return store.Submission{}, scopeError(err)
	}
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Submission{}, notFoundError("submission not found")
	}
	if err != nil {
		return store.Submission{}, err
	}
	if !entityInScope(actor, userScope, sub) {
		return store.Submission{}, forbiddenError("submission is outside your scope")
	}
	if !contains(tr.expected, sub.Status) {
		return store.Submission{}, conflictError(fmt.Sprintf("cannot %s a submission in status %s", strings.ToLower(action), sub.Status))
	}
	if action == ActionSubmit {
		if sub.MetadataValidationStatus == store.RecordError || sub.FileValidationStatus == store.RecordError {
			return store.Submission{}, conflictError("submission has validation errors and cannot be submitted")
		}
	}

	swapped, err := s.store.TransitionStatus(ctx, submissionID, tr.expected, tr.next, actor.ID, comment)
	if err != nil {
		return store.Submission{}, err
	}
	if !swapped {
		current, err := s.store.GetSubmission(ctx, submissionID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Submission{}, notFoundError("submission not found")
		}
		if err != nil {
			return store.Submission{}, err
		}
		return store.Submission{}, conflictError(fmt.Sprintf("submission moved to %s concurrently", current.Status))
	}

	updated, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return store.Submission{}, err
	}
	s.notifier.SubmissionStateChanged(ctx, updated, sub.Status, actor)
	s.indexSubmission(updated)
	return updated, nil
}

type ValidationOutcome struct {
	ValidationID string          `json:"validationID"`
	Result       dispatch.Result `json:"result"`
}

// ValidateSubmission dispatches async validation for the requested types and
// scope. Delivery is at-least-once per target queue; a partial failure leaves
// already-sent messages in flight and is reported, not rolled back.
func (s *Service) ValidateSubmission(ctx context.Context, actor scope.Actor, submissionID string, types []string, validationScope string) (ValidationOutcome, error) {
	userScope, err := s.scopes.Resolve(actor, scope.CapValidate)
	if err != nil {
		return ValidationOutcome{}, scopeError(err)
	}
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return ValidationOutcome{}, notFoundError("submission not found")
	}
	if err != nil {
		return ValidationOutcome{}, err
	}
	if !entityInScope(actor, userScope, sub) {
		return ValidationOutcome{}, forbiddenError("submission is outside your scope")
	}
	if sub.Status != store.StatusInProgress && sub.Status != store.StatusSubmitted && sub.Status != store.StatusWithdrawn {
		return ValidationOutcome{}, conflictError(fmt.Sprintf("cannot validate a submission in status %s", sub.Status))
	}

	validationID := util.NewID("val")
	result, err := s.dispatcher.Dispatch(ctx, submissionID, types, validationScope, validationID)
	if errors.Is(err, dispatch.ErrInvalidInput) {
		return ValidationOutcome{}, validationError(err.Error(), nil)
	}
	if err != nil {
		return ValidationOutcome{}, err
	}

	if result.Sent > 0 {
		var metadataStatus, fileStatus string
		for _, raw := range types {
			switch strings.ToUpper(strings.TrimSpace(raw)) {
			case dispatch.ValidateMetadata, dispatch.ValidateCrossSubmission:
				metadataStatus = "Validating"
			case dispatch.ValidateFile:
				fileStatus = "Validating"
			}
		}
		if err := s.store.SetValidationStatus(ctx, submissionID, metadataStatus, fileStatus); err != nil {
			log.Printf("app: mark submission %s validating: %v", submissionID, err)
		}
	}
	return ValidationOutcome{ValidationID: validationID, Result: result}, nil
}

// ExportSubmission requests a metadata export for a released submission. The
// outcome is always a uniform success/message pair.
func (s *Service) ExportSubmission(ctx context.Context, actor scope.Actor, submissionID string) (dispatch.ExportResult, error) {
	userScope, err := s.scopes.Resolve(actor, scope.CapReview)
	if err != nil {
		return dispatch.ExportResult{}, scopeError(err)
	}
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.ExportResult{}, notFoundError("submission not found")
	}
	if err != nil {
		return dispatch.ExportResult{}, err
	}
	if !entityInScope(actor, userScope, sub) {
		return dispatch.ExportResult{}, forbiddenError("submission is outside your scope")
	}
	return s.dispatcher.ExportMetadata(ctx, submissionID), nil
}

// SubmissionStats returns per-node-type validation statistics. The file row
// from the database grouping is replaced by the storage-reconciled file stat,
// which also sees orphaned uploads the records alone cannot.
func (s *Service) SubmissionStats(ctx context.Context, actor scope.Actor, submissionID string, validStatuses []string) ([]stats.Stat, error) {
	userScope, err := s.scopes.Resolve(actor, scope.CapView)
	if err != nil {
		return nil, scopeError(err)
	}
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("submission not found")
	}
	if err != nil {
		return nil, err
	}
	if !entityInScope(actor, userScope, sub) {
		return nil, forbiddenError("submission is outside your scope")
	}

	rows, err := s.stats.NodeStats(ctx, submissionID, validStatuses)
	if err != nil {
		return nil, err
	}
	fileStat, err := s.stats.FileStats(ctx, sub)
	if err != nil {
		return nil, err
	}
	if fileStat == nil {
		return rows, nil
	}

	merged := make([]stats.Stat, 0, len(rows)+1)
	inserted := false
	for _, row := range rows {
		if row.NodeName == stats.FileNodeName {
			merged = append(merged, *fileStat)
			inserted = true
			continue
		}
		if !inserted && row.NodeName > stats.FileNodeName {
			merged = append(merged, *fileStat)
			inserted = true
		}
		merged = append(merged, row)
	}
	if !inserted {
		merged = append(merged, *fileStat)
	}
	return merged, nil
}

// SearchSubmissions runs a full-text search and filters the hits down to the
// actor's scope by re-listing the candidate ids through the scoped query.
// Without a configured index it degrades to a scoped name filter.
func (s *Service) SearchSubmissions(ctx context.Context, actor scope.Actor, text string, limit int) (ListResult, error) {
	userScope, err := s.scopes.Resolve(actor, scope.CapView)
	if err != nil {
		return ListResult{}, scopeError(err)
	}
	if limit <= 0 {
		limit = 20
	}
	if emptyScopeValues(actor, userScope) {
		return ListResult{Items: []store.Submission{}, Total: 0}, nil
	}

	if s.index == nil {
		return s.ListSubmissions(ctx, actor, ListInput{Name: text, First: limit})
	}

	resp := s.index.Search(search.Query{Text: text, Limit: limit})
	if len(resp.Results) == 0 {
		return ListResult{Items: []store.Submission{}, Total: 0}, nil
	}
	ids := make([]string, 0, len(resp.Results))
	for _, hit := range resp.Results {
		ids = append(ids, hit.ID)
	}

	params := store.ListParams{
		Statuses: store.ActiveStatuses(),
		IDs:      ids,
		First:    -1,
	}
	applyScopeFilters(&params, actor, userScope, "", "")
	items, total, err := s.store.ListSubmissions(ctx, params)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

func (s *Service) indexSubmission(sub store.Submission) {
	if s.index == nil {
		return
	}
	if sub.Status == store.StatusDeleted {
		s.index.DeleteSubmission(sub.ID)
		return
	}
	s.index.IndexSubmission(search.SubmissionRecord{
		ID:            sub.ID,
		Name:          sub.Name,
		StudyID:       sub.StudyID,
		DataCommons:   sub.DataCommons,
		SubmitterName: sub.SubmitterName,
		Status:        sub.Status,
	})
}
