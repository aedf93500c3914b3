// Package numbering drives the preview / confirm workflow that assigns roll and secret numbers,
// plus the manual single-record edit and the secret number lookup, against a remote Gateway.
package numbering

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
)

var (
	// precondition errors; nothing is sent when they are returned
	ErrNoExam          = errors.New("no exam selected")
	ErrClassRequired   = errors.New("a class must be selected when the scope is class")
	ErrBusy            = errors.New("a request is already in flight")
	ErrNotReviewing    = errors.New("there is no preview to confirm")
	ErrNotAcknowledged = errors.New("overriding existing numbers was not acknowledged")
	ErrEmptySecret     = errors.New("secret number is required")
	ErrNoEdit          = errors.New("no record is being edited")

	// ErrAbandoned is returned when the workflow was closed while the request was in flight.
	// The request itself was not aborted, its result is ignored.
	ErrAbandoned = errors.New("workflow closed before the response arrived")
)

// Gateway is the remote side of the workflow: the exam directory, the number assignment server and the lookup service.
type Gateway interface {
	ListExamClasses(ctx context.Context, examID string) ([]exam.ExamClass, error)
	ListStudents(ctx context.Context, examID, examClassID string) (exam.StudentList, error)
	SuggestedStart(ctx context.Context, kind exam.NumberKind, examID string) (string, error)
	Preview(ctx context.Context, kind exam.NumberKind, req exam.AssignmentRequest) (exam.PreviewResponse, error)
	Confirm(ctx context.Context, kind exam.NumberKind, examID string, items []exam.ConfirmItem) (exam.ConfirmResult, error)
	UpdateNumber(ctx context.Context, upd exam.NumberUpdate) (exam.ExamStudent, error)
	LookupSecret(ctx context.Context, examID, secret string) (exam.LookupResult, error)
}

// Filter is what the user picked before asking for a preview.
type Filter struct {
	Scope       exam.Scope
	ExamClassID string
	// StartFrom overrides the start value held by the Controller when not blank.
	StartFrom        string
	OverrideExisting bool
}

// BuildRequest turns a filter into the request sent to the number assignment server.
// It does no number arithmetic: startFrom is passed along as typed.
func BuildRequest(examID string, f Filter, startFrom string) (exam.AssignmentRequest, error) {
	examID = core.CleanString(examID)
	if examID == "" {
		return exam.AssignmentRequest{}, ErrNoExam
	}
	if f.Scope == "" {
		f.Scope = exam.ScopeExam
	}
	req := exam.AssignmentRequest{
		ExamID:           examID,
		StartFrom:        startFrom,
		Scope:            f.Scope,
		OverrideExisting: f.OverrideExisting,
	}
	if f.Scope == exam.ScopeClass {
		req.ExamClassID = core.CleanString(f.ExamClassID)
		if req.ExamClassID == "" {
			return exam.AssignmentRequest{}, ErrClassRequired
		}
	}
	if s := core.CleanString(f.StartFrom); s != "" {
		req.StartFrom = s
	}
	return req, nil
}
