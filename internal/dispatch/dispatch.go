// Package dispatch turns validation requests into outbound queue messages.
//
// Delivery is fire-and-forget and at-least-once: the dispatcher never blocks
// on consumer processing, gives no cross-message ordering guarantee, and
// expects consumers to be idempotent keyed by validationID/dataRecordID.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"datahub/api/internal/store"
)

// Wire-level message type discriminators consumed by the validation worker.
const (
	TypeMetadata        = "Validate Metadata"
	TypeCrossSubmission = "Validate Cross-submission"
	TypeFileSubmission  = "Validate Submission Files"
	TypeFileNode        = "Validate File"
	TypeExport          = "Export Metadata"
)

// Requestable validation types.
const (
	ValidateMetadata        = "METADATA"
	ValidateFile            = "FILE"
	ValidateCrossSubmission = "CROSS_SUBMISSION"
)

// Validation scopes.
const (
	ScopeNew = "NEW"
	ScopeAll = "ALL"
)

// ErrInvalidInput marks malformed types/scope, rejected before any send.
var ErrInvalidInput = errors.New("invalid validation input")

// Message is the JSON payload placed on a queue.
type Message struct {
	Type         string `json:"type"`
	SubmissionID string `json:"submissionID,omitempty"`
	DataRecordID string `json:"dataRecordID,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ValidationID string `json:"validationID,omitempty"`
}

// Publisher delivers one message to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
}

// SendResult is the tagged outcome of one send: Sent, or Failed with the
// reason. Keeping per-message outcomes (rather than folding booleans) keeps
// partial-failure semantics precise.
type SendResult struct {
	Queue  string
	Target string
	Err    error
}

func (r SendResult) Sent() bool { return r.Err == nil }

// Result aggregates a dispatch. Success is the logical AND of every send;
// messages already delivered are never retracted on a later failure.
type Result struct {
	Success  bool
	Sent     int
	Failed   int
	Outcomes []SendResult
}

// Reduce folds per-message outcomes into one Result.
func Reduce(outcomes []SendResult) Result {
	result := Result{Success: true, Outcomes: outcomes}
	for _, outcome := range outcomes {
		if outcome.Sent() {
			result.Sent++
		} else {
			result.Failed++
			result.Success = false
		}
	}
	return result
}

// ExportResult is the uniform outcome of an export request: a flag and a
// descriptive message, never a thrown delivery error.
type ExportResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type QueueNames struct {
	Metadata string
	File     string
	Export   string
}

type recordSource interface {
	EachFileRecord(ctx context.Context, submissionID string, statuses []string, fn func(store.DataRecord) error) error
}

// fileSendParallelism bounds concurrent per-file sends.
const fileSendParallelism = 16

type Dispatcher struct {
	queues  QueueNames
	pub     Publisher
	records recordSource
}

func New(queues QueueNames, pub Publisher, records recordSource) *Dispatcher {
	return &Dispatcher{queues: queues, pub: pub, records: records}
}

// Dispatch emits the queue messages for the requested validation types.
//
// Input errors (unknown type, unknown scope) reject the whole request before
// any send. Delivery errors do not: each send is wrapped individually, logged
// with the submission/record id, and folded into the returned Result so the
// caller always sees an aggregated outcome instead of an exception.
func (d *Dispatcher) Dispatch(ctx context.Context, submissionID string, types []string, validationScope, validationID string) (Result, error) {
	normalizedScope := strings.ToUpper(strings.TrimSpace(validationScope))
	if normalizedScope != ScopeNew && normalizedScope != ScopeAll {
		return Result{}, fmt.Errorf("%w: scope %q", ErrInvalidInput, validationScope)
	}
	if len(types) == 0 {
		return Result{}, fmt.Errorf("%w: no validation types", ErrInvalidInput)
	}
	requested := make([]string, 0, len(types))
	seen := make(map[string]bool, len(types))
	for _, raw := range types {
		validationType := strings.ToUpper(strings.TrimSpace(raw))
		switch validationType {
		case ValidateMetadata, ValidateFile, ValidateCrossSubmission:
		default:
			return Result{}, fmt.Errorf("%w: type %q", ErrInvalidInput, raw)
		}
		if !seen[validationType] {
			seen[validationType] = true
			requested = append(requested, validationType)
		}
	}

	var outcomes []SendResult
	for _, validationType := range requested {
		switch validationType {
		case ValidateMetadata:
			outcomes = append(outcomes, d.send(ctx, d.queues.Metadata, submissionID, Message{
				Type:         TypeMetadata,
				SubmissionID: submissionID,
				Scope:        normalizedScope,
				ValidationID: validationID,
			}))
		case ValidateCrossSubmission:
			// Cross-submission checks always span the full submission; the
			// message intentionally carries no scope field.
			outcomes = append(outcomes, d.send(ctx, d.queues.Metadata, submissionID, Message{
				Type:         TypeCrossSubmission,
				SubmissionID: submissionID,
				ValidationID: validationID,
			}))
		case ValidateFile:
			outcomes = append(outcomes, d.dispatchFiles(ctx, submissionID, normalizedScope, validationID)...)
		}
	}
	return Reduce(outcomes), nil
}

// dispatchFiles sends the submission-level file message plus one message per
// file-bearing data record, streaming records in pages and sending each page
// in parallel.
func (d *Dispatcher) dispatchFiles(ctx context.Context, submissionID, validationScope, validationID string) []SendResult {
	outcomes := []SendResult{d.send(ctx, d.queues.File, submissionID, Message{
		Type:         TypeFileSubmission,
		SubmissionID: submissionID,
		ValidationID: validationID,
	})}

	var statuses []string
	if validationScope == ScopeNew {
		statuses = []string{store.RecordNew}
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		slots = make(chan struct{}, fileSendParallelism)
	)
	err := d.records.EachFileRecord(ctx, submissionID, statuses, func(record store.DataRecord) error {
		wg.Add(1)
		slots <- struct{}{}
		go func(recordID string) {
			defer wg.Done()
			defer func() { <-slots }()
			outcome := d.send(ctx, d.queues.File, recordID, Message{
				Type:         TypeFileNode,
				DataRecordID: recordID,
				ValidationID: validationID,
			})
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}(record.ID)
		return nil
	})
	wg.Wait()
	if err != nil {
		log.Printf("dispatch: list file records for %s failed: %v", submissionID, err)
		outcomes = append(outcomes, SendResult{Queue: d.queues.File, Target: submissionID, Err: err})
	}
	return outcomes
}

// ExportMetadata requests a metadata export. Delivery problems come back as
// Success=false with a message, uniformly with successful calls.
func (d *Dispatcher) ExportMetadata(ctx context.Context, submissionID string) ExportResult {
	outcome := d.send(ctx, d.queues.Export, submissionID, Message{
		Type:         TypeExport,
		SubmissionID: submissionID,
	})
	if !outcome.Sent() {
		return ExportResult{Success: false, Message: fmt.Sprintf("export request for %s failed: %v", submissionID, outcome.Err)}
	}
	return ExportResult{Success: true, Message: "export requested"}
}

func (d *Dispatcher) send(ctx context.Context, queue, target string, msg Message) SendResult {
	if err := d.pub.Publish(ctx, queue, msg); err != nil {
		log.Printf("dispatch: send %s for %s to %s failed: %v", msg.Type, target, queue, err)
		return SendResult{Queue: queue, Target: target, Err: err}
	}
	return SendResult{Queue: queue, Target: target}
}
