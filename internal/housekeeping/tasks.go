package housekeeping

import (
	"context"
	"fmt"
	"log"
	"time"

	"datahub/api/internal/config"
	"datahub/api/internal/store"
)

// taskStore is the slice of the store the maintenance tasks need.
type taskStore interface {
	ListStaleSubmissions(ctx context.Context, statuses []string, updatedBefore time.Time) ([]store.Submission, error)
	TransitionStatus(ctx context.Context, submissionID string, expected []string, next, userID, comment string) (bool, error)
	PurgeDeletedSubmissions(ctx context.Context, deletedBefore time.Time) (int64, error)
}

// Reminder is notified about submissions approaching inactivity deletion.
type Reminder interface {
	SubmissionInactive(ctx context.Context, submission store.Submission, deleteAt time.Time)
}

// LogReminder writes reminders to the process log. Outbound notification
// delivery lives in a separate system that tails these records.
type LogReminder struct{}

func (LogReminder) SubmissionInactive(_ context.Context, submission store.Submission, deleteAt time.Time) {
	log.Printf("housekeeping: submission %s (%s) inactive, scheduled for deletion at %s",
		submission.ID, submission.Name, deleteAt.Format(time.RFC3339))
}

// taskUser is the synthetic actor recorded on history rows written by
// maintenance transitions.
const taskUser = "system-housekeeping"

// staleStatuses are the statuses inactivity acts on: untouched drafts.
func staleStatuses() []string {
	return []string{store.StatusNew, store.StatusInProgress}
}

// Tasks builds the standard maintenance pass in dependency order.
func Tasks(cfg config.Config, st taskStore, reminder Reminder) []Task {
	if reminder == nil {
		reminder = LogReminder{}
	}
	return []Task{
		{
			Name:    "remind-inactive",
			Timeout: cfg.TaskTimeout,
			Run:     remindInactive(cfg, st, reminder),
		},
		{
			Name:      "delete-inactive",
			DependsOn: []string{"remind-inactive"},
			Timeout:   cfg.TaskTimeout,
			Run:       deleteInactive(cfg, st),
		},
		{
			Name:    "archive-completed",
			Timeout: cfg.TaskTimeout,
			Run:     archiveCompleted(cfg, st),
		},
		{
			Name:      "purge-deleted",
			DependsOn: []string{"delete-inactive"},
			Timeout:   cfg.TaskTimeout,
			Run:       purgeDeleted(cfg, st),
		},
	}
}

// remindInactive warns on submissions halfway to the inactivity cutoff.
func remindInactive(cfg config.Config, st taskStore, reminder Reminder) func(context.Context) error {
	return func(ctx context.Context) error {
		warnCutoff := time.Now().Add(-cfg.InactiveAfter / 2)
		items, err := st.ListStaleSubmissions(ctx, staleStatuses(), warnCutoff)
		if err != nil {
			return fmt.Errorf("remind inactive: %w", err)
		}
		for _, item := range items {
			deleteAt := item.UpdatedAt.Add(cfg.InactiveAfter)
			reminder.SubmissionInactive(ctx, item, deleteAt)
		}
		return nil
	}
}

// deleteInactive soft-deletes drafts untouched past the inactivity window.
// The conditional transition keeps this safe against a user racing back in.
func deleteInactive(cfg config.Config, st taskStore) func(context.Context) error {
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-cfg.InactiveAfter)
		items, err := st.ListStaleSubmissions(ctx, staleStatuses(), cutoff)
		if err != nil {
			return fmt.Errorf("delete inactive: %w", err)
		}
		for _, item := range items {
			swapped, err := st.TransitionStatus(ctx, item.ID, staleStatuses(),
				store.StatusDeleted, taskUser, "deleted after inactivity")
			if err != nil {
				return fmt.Errorf("delete inactive %s: %w", item.ID, err)
			}
			if !swapped {
				log.Printf("housekeeping: submission %s changed status concurrently, not deleted", item.ID)
			}
		}
		return nil
	}
}

// archiveCompleted moves old completed submissions to Archived.
func archiveCompleted(cfg config.Config, st taskStore) func(context.Context) error {
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-cfg.ArchiveAfter)
		items, err := st.ListStaleSubmissions(ctx, []string{store.StatusCompleted}, cutoff)
		if err != nil {
			return fmt.Errorf("archive completed: %w", err)
		}
		for _, item := range items {
			swapped, err := st.TransitionStatus(ctx, item.ID, []string{store.StatusCompleted},
				store.StatusArchived, taskUser, "archived after completion window")
			if err != nil {
				return fmt.Errorf("archive %s: %w", item.ID, err)
			}
			if !swapped {
				log.Printf("housekeeping: submission %s changed status concurrently, not archived", item.ID)
			}
		}
		return nil
	}
}

// purgeDeleted hard-deletes rows that have sat in Deleted past the grace
// window.
func purgeDeleted(cfg config.Config, st taskStore) func(context.Context) error {
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-cfg.PurgeAfter)
		purged, err := st.PurgeDeletedSubmissions(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purge deleted: %w", err)
		}
		if purged > 0 {
			log.Printf("housekeeping: purged %d deleted submissions", purged)
		}
		return nil
	}
}
