package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"

	"datahub/api/internal/config"
	"datahub/api/internal/dispatch"
	"datahub/api/internal/scope"
	"datahub/api/internal/search"
	"datahub/api/internal/stats"
	"datahub/api/internal/store"
)

type fakeStore struct {
	getUserFn              func(context.Context, string) (store.User, error)
	insertSubmissionFn     func(context.Context, store.Submission) error
	getSubmissionFn        func(context.Context, string) (store.Submission, error)
	listSubmissionsFn      func(context.Context, store.ListParams) ([]store.Submission, int, error)
	listHistoryFn          func(context.Context, string) ([]store.HistoryEvent, error)
	transitionStatusFn     func(context.Context, string, []string, string, string, string) (bool, error)
	replaceCollaboratorsFn func(context.Context, string, []store.Collaborator) error
	setValidationStatusFn  func(context.Context, string, string, string) error
}

func (f *fakeStore) GetUser(ctx context.Context, userID string) (store.User, error) {
	if f.getUserFn != nil {
		return f.getUserFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) InsertSubmission(ctx context.Context, item store.Submission) error {
	if f.insertSubmissionFn != nil {
		return f.insertSubmissionFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetSubmission(ctx context.Context, submissionID string) (store.Submission, error) {
	if f.getSubmissionFn != nil {
		return f.getSubmissionFn(ctx, submissionID)
	}
	return store.Submission{}, sql.ErrNoRows
}
func (f *fakeStore) ListSubmissions(ctx context.Context, params store.ListParams) ([]store.Submission, int, error) {
	if f.listSubmissionsFn != nil {
		return f.listSubmissionsFn(ctx, params)
	}
	return nil, 0, nil
}
func (f *fakeStore) ListHistory(ctx context.Context, submissionID string) ([]store.HistoryEvent, error) {
	if f.listHistoryFn != nil {
		return f.listHistoryFn(ctx, submissionID)
	}
	return nil, nil
}
func (f *fakeStore) TransitionStatus(ctx context.Context, submissionID string, expected []string, next, userID, comment string) (bool, error) {
	if f.transitionStatusFn != nil {
		return f.transitionStatusFn(ctx, submissionID, expected, next, userID, comment)
	}
	return true, nil
}
func (f *fakeStore) ReplaceCollaborators(ctx context.Context, submissionID string, collaborators []store.Collaborator) error {
	if f.replaceCollaboratorsFn != nil {
		return f.replaceCollaboratorsFn(ctx, submissionID, collaborators)
	}
	return nil
}
func (f *fakeStore) SetValidationStatus(ctx context.Context, submissionID, metadataStatus, fileStatus string) error {
	if f.setValidationStatusFn != nil {
		return f.setValidationStatusFn(ctx, submissionID, metadataStatus, fileStatus)
	}
	return nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeDispatcher struct {
	dispatchFn func(context.Context, string, []string, string, string) (dispatch.Result, error)
	exportFn   func(context.Context, string) dispatch.ExportResult
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, submissionID string, types []string, validationScope, validationID string) (dispatch.Result, error) {
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, submissionID, types, validationScope, validationID)
	}
	return dispatch.Result{Success: true, Sent: 1}, nil
}
func (f *fakeDispatcher) ExportMetadata(ctx context.Context, submissionID string) dispatch.ExportResult {
	if f.exportFn != nil {
		return f.exportFn(ctx, submissionID)
	}
	return dispatch.ExportResult{Success: true, Message: "queued"}
}

type fakeStats struct {
	nodeStatsFn func(context.Context, string, []string) ([]stats.Stat, error)
	fileStatsFn func(context.Context, store.Submission) (*stats.Stat, error)
}

func (f *fakeStats) NodeStats(ctx context.Context, submissionID string, validStatuses []string) ([]stats.Stat, error) {
	if f.nodeStatsFn != nil {
		return f.nodeStatsFn(ctx, submissionID, validStatuses)
	}
	return nil, nil
}
func (f *fakeStats) FileStats(ctx context.Context, submission store.Submission) (*stats.Stat, error) {
	if f.fileStatsFn != nil {
		return f.fileStatsFn(ctx, submission)
	}
	return nil, nil
}

func newTestService(t *testing.T, fs *fakeStore) *Service {
	t.Helper()
	resolver, err := scope.NewResolver(scope.DefaultPolicy(), scope.DefaultGraph())
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return &Service{
		cfg:        config.Config{StorageBucket: "test-bucket"},
		store:      fs,
		scopes:     resolver,
		dispatcher: &fakeDispatcher{},
		stats:      &fakeStats{},
		notifier:   NoopNotifier{},
	}
}

func submitterActor() scope.Actor {
	return scope.Actor{
		ID:               "usr-1",
		Name:             "Pat Submitter",
		Role:             scope.RoleSubmitter,
		OrganizationID:   "org-1",
		OrganizationName: "Example Org",
		Studies:          []string{"S1"},
	}
}

func curatorActor() scope.Actor {
	return scope.Actor{ID: "usr-cur", Name: "Cory Curator", Role: scope.RoleCurator}
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Status
}

func TestCreateSubmissionRequiresOrganization(t *testing.T) {
	svc := newTestService(t, &fakeStore{})
	actor := submitterActor()
	actor.OrganizationID = ""

	_, err := svc.CreateSubmission(context.Background(), actor, CreateSubmissionInput{
		Name: "n", StudyID: "S1", DataCommons: "CDS",
	})
	if status := domainStatus(t, err); status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestCreateSubmissionOutsideAssignedStudy(t *testing.T) {
	svc := newTestService(t, &fakeStore{})

	_, err := svc.CreateSubmission(context.Background(), submitterActor(), CreateSubmissionInput{
		Name: "n", StudyID: "S2", DataCommons: "CDS",
	})
	if status := domainStatus(t, err); status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestCreateSubmissionWritesInitialState(t *testing.T) {
	var inserted store.Submission
	fs := &fakeStore{
		insertSubmissionFn: func(_ context.Context, item store.Submission) error {
			inserted = item
			return nil
		},
		getSubmissionFn: func(_ context.Context, id string) (store.Submission, error) {
			if id != inserted.ID {
				return store.Submission{}, sql.ErrNoRows
			}
			return inserted, nil
		},
	}
	svc := newTestService(t, fs)

	created, err := svc.CreateSubmission(context.Background(), submitterActor(), CreateSubmissionInput{
		Name: "  My Study Upload  ", StudyID: "S1", DataCommons: "CDS",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != store.StatusNew {
		t.Fatalf("expected status New, got %q", created.Status)
	}
	if created.Name != "My Study Upload" {
		t.Fatalf("expected trimmed name, got %q", created.Name)
	}
	if created.RootPath != created.ID {
		t.Fatalf("expected root path %q, got %q", created.ID, created.RootPath)
	}
	if created.BucketName != "test-bucket" {
		t.Fatalf("expected configured bucket, got %q", created.BucketName)
	}
	if created.SubmitterID != "usr-1" || created.OrganizationID != "org-1" {
		t.Fatalf("expected actor identity on submission, got %+v", created)
	}
}

func TestAcceptBatchAlreadyInProgressIsNoOp(t *testing.T) {
	transitioned := false
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{
				ID: "sub-1", Status: store.StatusInProgress,
				StudyID: "S1", SubmitterID: "usr-1",
			}, nil
		},
		transitionStatusFn: func(context.Context, string, []string, string, string, string) (bool, error) {
			transitioned = true
			return true, nil
		},
	}
	svc := newTestService(t, fs)

	sub, err := svc.AcceptBatch(context.Background(), submitterActor(), "sub-1")
	if err != nil {
		t.Fatalf("accept batch: %v", err)
	}
	if transitioned {
		t.Fatal("expected no status write for an In Progress submission")
	}
	if sub.Status != store.StatusInProgress {
		t.Fatalf("expected In Progress, got %q", sub.Status)
	}
}

func TestAcceptBatchMovesNewToInProgress(t *testing.T) {
	status := store.StatusNew
	var gotExpected []string
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{
				ID: "sub-1", Status: status,
				StudyID: "S1", SubmitterID: "usr-1",
			}, nil
		},
		transitionStatusFn: func(_ context.Context, _ string, expected []string, next, _, _ string) (bool, error) {
			gotExpected = expected
			status = next
			return true, nil
		},
	}
	svc := newTestService(t, fs)

	sub, err := svc.AcceptBatch(context.Background(), submitterActor(), "sub-1")
	if err != nil {
		t.Fatalf("accept batch: %v", err)
	}
	if sub.Status != store.StatusInProgress {
		t.Fatalf("expected In Progress, got %q", sub.Status)
	}
	want := []string{store.StatusNew, store.StatusWithdrawn, store.StatusRejected}
	if len(gotExpected) != len(want) {
		t.Fatalf("expected CAS over %v, got %v", want, gotExpected)
	}
	for i := range want {
		if gotExpected[i] != want[i] {
			t.Fatalf("expected CAS over %v, got %v", want, gotExpected)
		}
	}
}

func TestAcceptBatchReopensWithdrawnSubmission(t *testing.T) {
	status := store.StatusWithdrawn
	historyRows := 0
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{ID: "sub-1", Status: status, StudyID: "S1", SubmitterID: "usr-1"}, nil
		},
		transitionStatusFn: func(_ context.Context, _ string, _ []string, next, _, _ string) (bool, error) {
			status = next
			historyRows++
			return true, nil
		},
	}
	svc := newTestService(t, fs)

	sub, err := svc.AcceptBatch(context.Background(), submitterActor(), "sub-1")
	if err != nil {
		t.Fatalf("accept batch: %v", err)
	}
	if sub.Status != store.StatusInProgress {
		t.Fatalf("expected In Progress, got %q", sub.Status)
	}
	if historyRows != 1 {
		t.Fatalf("expected exactly one history append, got %d", historyRows)
	}
}

func TestAcceptBatchLostRaceToInProgressIsNoOp(t *testing.T) {
	calls := 0
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			calls++
			// Another batch wins between the read and the update.
			if calls == 1 {
				return store.Submission{ID: "sub-1", Status: store.StatusNew, StudyID: "S1", SubmitterID: "usr-1"}, nil
			}
			return store.Submission{ID: "sub-1", Status: store.StatusInProgress, StudyID: "S1", SubmitterID: "usr-1"}, nil
		},
		transitionStatusFn: func(context.Context, string, []string, string, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(t, fs)

	sub, err := svc.AcceptBatch(context.Background(), submitterActor(), "sub-1")
	if err != nil {
		t.Fatalf("accept batch after lost race: %v", err)
	}
	if sub.Status != store.StatusInProgress {
		t.Fatalf("expected In Progress, got %q", sub.Status)
	}
}

func TestAcceptBatchLostRaceToOtherStatusConflicts(t *testing.T) {
	calls := 0
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			calls++
			if calls == 1 {
				return store.Submission{ID: "sub-1", Status: store.StatusNew, StudyID: "S1", SubmitterID: "usr-1"}, nil
			}
			return store.Submission{ID: "sub-1", Status: store.StatusCanceled, StudyID: "S1", SubmitterID: "usr-1"}, nil
		},
		transitionStatusFn: func(context.Context, string, []string, string, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(t, fs)

	_, err := svc.AcceptBatch(context.Background(), submitterActor(), "sub-1")
	if status := domainStatus(t, err); status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
}

func TestReviewActionUnknownActionRejected(t *testing.T) {
	svc := newTestService(t, &fakeStore{})
	_, err := svc.ReviewAction(context.Background(), curatorActor(), "sub-1", "Promote", "")
	if status := domainStatus(t, err); status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestReviewActionWrongStatusConflicts(t *testing.T) {
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{ID: "sub-1", Status: store.StatusNew}, nil
		},
	}
	svc := newTestService(t, fs)

	_, err := svc.ReviewAction(context.Background(), curatorActor(), "sub-1", ActionRelease, "")
	if status := domainStatus(t, err); status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
}

func TestReviewActionSubmitBlockedByValidationErrors(t *testing.T) {
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{
				ID: "sub-1", Status: store.StatusInProgress,
				StudyID: "S1", SubmitterID: "usr-1",
				FileValidationStatus: store.RecordError,
			}, nil
		},
	}
	svc := newTestService(t, fs)

	_, err := svc.ReviewAction(context.Background(), submitterActor(), "sub-1", ActionSubmit, "")
	if status := domainStatus(t, err); status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
}

func TestReviewActionReleaseAppendsHistory(t *testing.T) {
	status := store.StatusSubmitted
	var historyComment string
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{ID: "sub-1", Status: status}, nil
		},
		transitionStatusFn: func(_ context.Context, _ string, expected []string, next, userID, comment string) (bool, error) {
			if len(expected) != 1 || expected[0] != store.StatusSubmitted {
				t.Fatalf("expected CAS over [Submitted], got %v", expected)
			}
			if userID != "usr-cur" {
				t.Fatalf("expected acting user on history row, got %q", userID)
			}
			status = next
			historyComment = comment
			return true, nil
		},
	}
	svc := newTestService(t, fs)

	sub, err := svc.ReviewAction(context.Background(), curatorActor(), "sub-1", ActionRelease, "looks good")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if sub.Status != store.StatusReleased {
		t.Fatalf("expected Released, got %q", sub.Status)
	}
	if historyComment != "looks good" {
		t.Fatalf("expected comment on history row, got %q", historyComment)
	}
}

func TestReviewActionConcurrentLoserConflicts(t *testing.T) {
	calls := 0
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			calls++
			if calls == 1 {
				return store.Submission{ID: "sub-1", Status: store.StatusSubmitted}, nil
			}
			return store.Submission{ID: "sub-1", Status: store.StatusRejected}, nil
		},
		transitionStatusFn: func(context.Context, string, []string, string, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(t, fs)

	_, err := svc.ReviewAction(context.Background(), curatorActor(), "sub-1", ActionRelease, "")
	if status := domainStatus(t, err); status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
}

func TestListSubmissionsUnknownStatusRejected(t *testing.T) {
	svc := newTestService(t, &fakeStore{})
	_, err := svc.ListSubmissions(context.Background(), curatorActor(), ListInput{Statuses: []string{"Bogus"}})
	if status := domainStatus(t, err); status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestListSubmissionsUnknownSortFieldRejected(t *testing.T) {
	svc := newTestService(t, &fakeStore{})
	_, err := svc.ListSubmissions(context.Background(), curatorActor(), ListInput{OrderBy: "secret"})
	if status := domainStatus(t, err); status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestListSubmissionsOwnScopeRestrictsToOwnerAndStudies(t *testing.T) {
	var got store.ListParams
	fs := &fakeStore{
		listSubmissionsFn: func(_ context.Context, params store.ListParams) ([]store.Submission, int, error) {
			got = params
			return []store.Submission{}, 0, nil
		},
	}
	svc := newTestService(t, fs)

	if _, err := svc.ListSubmissions(context.Background(), submitterActor(), ListInput{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got.OwnerID != "usr-1" {
		t.Fatalf("expected owner restriction, got %q", got.OwnerID)
	}
	if len(got.StudyIDs) != 1 || got.StudyIDs[0] != "S1" {
		t.Fatalf("expected study restriction [S1], got %v", got.StudyIDs)
	}
	if len(got.Statuses) != len(store.ActiveStatuses()) {
		t.Fatalf("expected active status whitelist by default, got %v", got.Statuses)
	}
	for _, status := range got.Statuses {
		if status == store.StatusDeleted {
			t.Fatal("default listing must exclude Deleted")
		}
	}
}

func TestListSubmissionsFilterCannotWidenScope(t *testing.T) {
	var got store.ListParams
	fs := &fakeStore{
		listSubmissionsFn: func(_ context.Context, params store.ListParams) ([]store.Submission, int, error) {
			got = params
			return []store.Submission{}, 0, nil
		},
	}
	svc := newTestService(t, fs)
	actor := scope.Actor{ID: "usr-poc", Role: scope.RoleCommonsPOC, DataCommons: []string{"C1"}}

	if _, err := svc.ListSubmissions(context.Background(), actor, ListInput{DataCommons: "C2"}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got.DataCommons) != 1 || got.DataCommons[0] != "C1" {
		t.Fatalf("expected scope values to hold, got %v", got.DataCommons)
	}
}

func TestListSubmissionsEmptyCommonsAssignmentReturnsNothing(t *testing.T) {
	queried := false
	fs := &fakeStore{
		listSubmissionsFn: func(_ context.Context, params store.ListParams) ([]store.Submission, int, error) {
			queried = true
			return []store.Submission{{ID: "sub-other", DataCommons: "C9"}}, 1, nil
		},
	}
	svc := newTestService(t, fs)
	actor := scope.Actor{ID: "usr-poc", Role: scope.RoleCommonsPOC, DataCommons: nil}

	result, err := svc.ListSubmissions(context.Background(), actor, ListInput{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if queried {
		t.Fatal("an empty data-commons assignment must not reach the store")
	}
	if len(result.Items) != 0 || result.Total != 0 {
		t.Fatalf("expected empty result, got %d items", len(result.Items))
	}
}

func TestListSubmissionsEmptyStudyAssignmentReturnsNothing(t *testing.T) {
	queried := false
	fs := &fakeStore{
		listSubmissionsFn: func(context.Context, store.ListParams) ([]store.Submission, int, error) {
			queried = true
			return []store.Submission{{ID: "sub-other", StudyID: "S9"}}, 1, nil
		},
	}
	svc := newTestService(t, fs)
	actor := scope.Actor{ID: "usr-org", Role: scope.RoleOrgOwner, Studies: nil}

	result, err := svc.ListSubmissions(context.Background(), actor, ListInput{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if queried || len(result.Items) != 0 {
		t.Fatalf("expected empty result without a query, queried=%v items=%d", queried, len(result.Items))
	}
}

func TestListSubmissionsOrganizationFilter(t *testing.T) {
	var got store.ListParams
	fs := &fakeStore{
		listSubmissionsFn: func(_ context.Context, params store.ListParams) ([]store.Submission, int, error) {
			got = params
			return []store.Submission{}, 0, nil
		},
	}
	svc := newTestService(t, fs)

	if _, err := svc.ListSubmissions(context.Background(), curatorActor(), ListInput{Organization: "org-9"}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got.Organization != "org-9" {
		t.Fatalf("expected organization filter, got %q", got.Organization)
	}
}

func TestListSubmissionsNoStudiesForbidden(t *testing.T) {
	svc := newTestService(t, &fakeStore{})
	actor := submitterActor()
	actor.Studies = nil

	_, err := svc.ListSubmissions(context.Background(), actor, ListInput{})
	if status := domainStatus(t, err); status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestGetSubmissionOutsideScopeForbidden(t *testing.T) {
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{ID: "sub-1", DataCommons: "C2"}, nil
		},
	}
	svc := newTestService(t, fs)
	actor := scope.Actor{ID: "usr-poc", Role: scope.RoleCommonsPOC, DataCommons: []string{"C1"}}

	_, err := svc.GetSubmission(context.Background(), actor, "sub-1")
	if status := domainStatus(t, err); status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestGetSubmissionReturnsHistoryOldestFirst(t *testing.T) {
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{ID: "sub-1", Status: store.StatusSubmitted}, nil
		},
		listHistoryFn: func(context.Context, string) ([]store.HistoryEvent, error) {
			return []store.HistoryEvent{
				{ID: 1, Status: store.StatusNew},
				{ID: 2, Status: store.StatusInProgress},
				{ID: 3, Status: store.StatusSubmitted},
			}, nil
		},
	}
	svc := newTestService(t, fs)

	detail, err := svc.GetSubmission(context.Background(), curatorActor(), "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(detail.History) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(detail.History))
	}
	if last := detail.History[len(detail.History)-1].Status; last != detail.Submission.Status {
		t.Fatalf("latest history row %q must match current status %q", last, detail.Submission.Status)
	}
}

func TestEditCollaboratorsOnlySubmitterForOwnScope(t *testing.T) {
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{ID: "sub-1", StudyID: "S1", SubmitterID: "someone-else"}, nil
		},
	}
	svc := newTestService(t, fs)

	_, err := svc.EditCollaborators(context.Background(), submitterActor(), "sub-1", nil)
	if status := domainStatus(t, err); status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestEditCollaboratorsValidatesNewEntries(t *testing.T) {
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{ID: "sub-1", StudyID: "S1", SubmitterID: "usr-1"}, nil
		},
		getUserFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{
				ID: userID, Name: "Robin", Role: string(scope.RoleCurator),
				Status: store.UserActive, Studies: []string{"S1"},
			}, nil
		},
	}
	svc := newTestService(t, fs)

	_, err := svc.EditCollaborators(context.Background(), submitterActor(), "sub-1", []store.Collaborator{
		{CollaboratorID: "usr-2", Permission: store.PermCanEdit},
	})
	if status := domainStatus(t, err); status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for non-Submitter collaborator, got %d", status)
	}
}

func TestEditCollaboratorsExistingSkipValidation(t *testing.T) {
	userLookups := 0
	var replaced []store.Collaborator
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{
				ID: "sub-1", StudyID: "S1", SubmitterID: "usr-1",
				Collaborators: []store.Collaborator{
					{CollaboratorID: "usr-2", CollaboratorName: "Robin", Permission: store.PermCanView},
				},
			}, nil
		},
		getUserFn: func(context.Context, string) (store.User, error) {
			userLookups++
			return store.User{}, sql.ErrNoRows
		},
		replaceCollaboratorsFn: func(_ context.Context, _ string, collaborators []store.Collaborator) error {
			replaced = collaborators
			return nil
		},
	}
	svc := newTestService(t, fs)

	_, err := svc.EditCollaborators(context.Background(), submitterActor(), "sub-1", []store.Collaborator{
		{CollaboratorID: "usr-2", Permission: store.PermCanEdit},
	})
	if err != nil {
		t.Fatalf("edit collaborators: %v", err)
	}
	if userLookups != 0 {
		t.Fatal("existing collaborators must be accepted without a user lookup")
	}
	if len(replaced) != 1 || replaced[0].Permission != store.PermCanEdit {
		t.Fatalf("expected permission update to Can Edit, got %v", replaced)
	}
}

func TestValidateSubmissionDispatchesAndMarksValidating(t *testing.T) {
	var markedMetadata, markedFile string
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{ID: "sub-1", Status: store.StatusInProgress, StudyID: "S1", SubmitterID: "usr-1"}, nil
		},
		setValidationStatusFn: func(_ context.Context, _ string, metadataStatus, fileStatus string) error {
			markedMetadata, markedFile = metadataStatus, fileStatus
			return nil
		},
	}
	svc := newTestService(t, fs)

	outcome, err := svc.ValidateSubmission(context.Background(), submitterActor(), "sub-1",
		[]string{dispatch.ValidateMetadata, dispatch.ValidateFile}, dispatch.ScopeNew)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if outcome.ValidationID == "" {
		t.Fatal("expected a validation id")
	}
	if !outcome.Result.Success {
		t.Fatalf("expected success, got %+v", outcome.Result)
	}
	if markedMetadata != "Validating" || markedFile != "Validating" {
		t.Fatalf("expected both validation statuses marked, got %q / %q", markedMetadata, markedFile)
	}
}

func TestValidateSubmissionInvalidInputIsValidationError(t *testing.T) {
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{ID: "sub-1", Status: store.StatusInProgress, StudyID: "S1", SubmitterID: "usr-1"}, nil
		},
	}
	svc := newTestService(t, fs)
	svc.dispatcher = &fakeDispatcher{
		dispatchFn: func(context.Context, string, []string, string, string) (dispatch.Result, error) {
			return dispatch.Result{}, dispatch.ErrInvalidInput
		},
	}

	_, err := svc.ValidateSubmission(context.Background(), submitterActor(), "sub-1", []string{"BOGUS"}, dispatch.ScopeNew)
	if status := domainStatus(t, err); status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestSubmissionStatsReplacesFileRow(t *testing.T) {
	fs := &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return store.Submission{ID: "sub-1", Status: store.StatusInProgress}, nil
		},
	}
	svc := newTestService(t, fs)
	svc.stats = &fakeStats{
		nodeStatsFn: func(context.Context, string, []string) ([]stats.Stat, error) {
			return []stats.Stat{
				{NodeName: "file", Total: 2, Passed: 2},
				{NodeName: "sample", Total: 5, Passed: 5},
			}, nil
		},
		fileStatsFn: func(context.Context, store.Submission) (*stats.Stat, error) {
			// Storage reconciliation found an orphaned upload.
			return &stats.Stat{NodeName: "file", Total: 3, Passed: 2, Error: 1}, nil
		},
	}

	rows, err := svc.SubmissionStats(context.Background(), curatorActor(), "sub-1", nil)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].NodeName != "file" || rows[0].Total != 3 || rows[0].Error != 1 {
		t.Fatalf("expected reconciled file row first, got %+v", rows[0])
	}
}

type fakeIndex struct {
	searchFn func(search.Query) search.Response
}

func (f *fakeIndex) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}}
}
func (f *fakeIndex) IndexSubmission(search.SubmissionRecord) {}
func (f *fakeIndex) DeleteSubmission(string)                 {}

func TestSearchEmptyCommonsAssignmentReturnsNothing(t *testing.T) {
	queried := false
	fs := &fakeStore{
		listSubmissionsFn: func(context.Context, store.ListParams) ([]store.Submission, int, error) {
			queried = true
			return []store.Submission{{ID: "sub-other", DataCommons: "C9"}}, 1, nil
		},
	}
	svc := newTestService(t, fs)
	svc.index = &fakeIndex{
		searchFn: func(search.Query) search.Response {
			return search.Response{Results: []search.Result{{ID: "sub-other"}}, Total: 1}
		},
	}
	actor := scope.Actor{ID: "usr-poc", Role: scope.RoleCommonsPOC, DataCommons: nil}

	result, err := svc.SearchSubmissions(context.Background(), actor, "melanoma", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if queried || len(result.Items) != 0 {
		t.Fatalf("expected empty result without a query, queried=%v items=%d", queried, len(result.Items))
	}
}

func TestSearchWithoutIndexFallsBackToNameFilter(t *testing.T) {
	var got store.ListParams
	fs := &fakeStore{
		listSubmissionsFn: func(_ context.Context, params store.ListParams) ([]store.Submission, int, error) {
			got = params
			return []store.Submission{}, 0, nil
		},
	}
	svc := newTestService(t, fs)

	if _, err := svc.SearchSubmissions(context.Background(), curatorActor(), "melanoma", 5); err != nil {
		t.Fatalf("search: %v", err)
	}
	if got.Name != "melanoma" {
		t.Fatalf("expected name filter fallback, got %q", got.Name)
	}
	if got.First != 5 {
		t.Fatalf("expected page size 5, got %d", got.First)
	}
}
