package app

import (
	"context"

	"datahub/api/internal/scope"
	"datahub/api/internal/store"
)

// Notifier is the boundary to the external notification system. Rendering and
// delivery live outside this repository; the service only reports events and
// passes the actor's notification preferences along.
type Notifier interface {
	SubmissionStateChanged(ctx context.Context, submission store.Submission, previousStatus string, actor scope.Actor)
}

type NoopNotifier struct{}

func (NoopNotifier) SubmissionStateChanged(context.Context, store.Submission, string, scope.Actor) {
}
