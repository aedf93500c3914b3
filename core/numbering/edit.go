package numbering

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
)

type editState struct {
	examStudentID string
	value         string
	saving        bool
	err           error
}

// Edit is the record being edited by hand.
type Edit struct {
	ExamStudentID string
	Value         string
	Saving        bool
	// Err is the rejection of the last save, if any.
	Err error
}

// StartEdit puts one record in edit mode with its current number as the value.
// Any other active edit is discarded without a request.
func (c *Controller) StartEdit(examStudentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit != nil && c.edit.saving {
		return ErrBusy
	}
	id := core.CleanString(examStudentID)
	var value string
	if s, ok := c.students.Find(id); ok {
		value = s.Number(c.kind).String
	}
	c.edit = &editState{examStudentID: id, value: value}
	c.editGen++
	return nil
}

func (c *Controller) SetEditValue(v string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit == nil {
		return ErrNoEdit
	}
	c.edit.value = v
	return nil
}

// Editing returns the active edit, if any.
func (c *Controller) Editing() (Edit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit == nil {
		return Edit{}, false
	}
	return Edit{
		ExamStudentID: c.edit.examStudentID,
		Value:         c.edit.value,
		Saving:        c.edit.saving,
		Err:           c.edit.err,
	}, true
}

// CancelEdit leaves edit mode without a request.
func (c *Controller) CancelEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edit = nil
	c.editGen++
}

// SaveEdit sends the typed value; blank clears the number. On success edit mode ends and the
// enrollment list is refetched. On failure the edit stays active with its value and the error.
func (c *Controller) SaveEdit(ctx context.Context) (exam.ExamStudent, error) {
	c.mu.Lock()
	if c.edit == nil {
		c.mu.Unlock()
		return exam.ExamStudent{}, ErrNoEdit
	}
	if c.edit.saving {
		c.mu.Unlock()
		return exam.ExamStudent{}, ErrBusy
	}
	edit := c.edit
	edit.saving = true
	gen := c.editGen
	value := core.CleanString(edit.value)
	upd := exam.NumberUpdate{
		Kind:          c.kind,
		ExamID:        c.examID,
		ExamStudentID: edit.examStudentID,
		Number:        null.NewString(value, value != ""),
	}
	c.mu.Unlock()

	student, err := c.gw.UpdateNumber(ctx, upd)

	c.mu.Lock()
	edit.saving = false
	if c.editGen != gen || c.edit != edit {
		c.mu.Unlock()
		return student, ErrAbandoned
	}
	if err != nil {
		edit.err = errors.Wrapf(err, "updating %s", c.kind.Label())
		c.mu.Unlock()
		return exam.ExamStudent{}, edit.err
	}
	c.edit = nil
	c.mu.Unlock()

	_ = c.refresh(ctx)
	return student, nil
}

// Lookup resolves a secret number. An unknown number is not an error: Found is false.
func (c *Controller) Lookup(ctx context.Context, secret string) (exam.LookupResult, error) {
	if c.examID == "" {
		return exam.LookupResult{}, ErrNoExam
	}
	secret = core.CleanString(secret)
	if secret == "" {
		return exam.LookupResult{}, ErrEmptySecret
	}
	res, err := c.gw.LookupSecret(ctx, c.examID, secret)
	if err != nil {
		return exam.LookupResult{}, c.fail(errors.Wrap(err, "looking up secret number"))
	}
	return res, nil
}
