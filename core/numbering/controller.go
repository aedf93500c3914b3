package numbering

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
)

// DefaultDisplayLimit is how many preview items are shown for review.
const DefaultDisplayLimit = 50

type State string

const (
	StateIdle       State = "idle"
	StatePreviewing State = "previewing"
	StateReviewing  State = "reviewing"
	StateConfirming State = "confirming"
	StateDiscarded  State = "discarded"
)

// Acknowledger is asked before a commit that reassigns numbers students already hold.
type Acknowledger interface {
	AcknowledgeOverrides(ctx context.Context, kind exam.NumberKind, count int) bool
}

// AcknowledgerFunc adapts a function to the Acknowledger interface.
type AcknowledgerFunc func(ctx context.Context, kind exam.NumberKind, count int) bool

func (f AcknowledgerFunc) AcknowledgeOverrides(ctx context.Context, kind exam.NumberKind, count int) bool {
	return f(ctx, kind, count)
}

type Options struct {
	// DisplayLimit caps VisibleItems; DefaultDisplayLimit when <= 0.
	DisplayLimit int
	// OnTransition is called, with the controller locked, on every state change.
	// It must not call back into the Controller.
	OnTransition func(from, to State)
}

// Controller owns the numbering workflow of one exam for one kind of number.
// It is safe for concurrent use; gateway calls are made without holding its lock.
type Controller struct {
	gw     Gateway
	kind   exam.NumberKind
	examID string
	opts   Options

	mu           sync.Mutex
	state        State
	gen          uint64 // bumped by Cancel and Close, stale responses are dropped
	preview      *exam.PreviewResponse
	startFrom    string
	startTouched bool
	students     exam.StudentList
	lastErr      error
	edit         *editState
	editGen      uint64
}

func NewController(gw Gateway, kind exam.NumberKind, examID string, opts Options) *Controller {
	if opts.DisplayLimit <= 0 {
		opts.DisplayLimit = DefaultDisplayLimit
	}
	return &Controller{
		gw:     gw,
		kind:   kind,
		examID: core.CleanString(examID),
		opts:   opts,
		state:  StateIdle,
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	from := c.state
	c.state = s
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(from, s)
	}
}

func (c *Controller) Kind() exam.NumberKind { return c.kind }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the last error surfaced by a request of the workflow.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ClearErr dismisses the last error.
func (c *Controller) ClearErr() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
}

// Students is the enrollment list as last fetched.
func (c *Controller) Students() exam.StudentList {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.students
}

// Load fetches the enrollment list and, unless the user typed one, the suggested start value.
func (c *Controller) Load(ctx context.Context) error {
	if c.examID == "" {
		return ErrNoExam
	}
	if err := c.refresh(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	touched := c.startTouched
	c.mu.Unlock()
	if touched {
		return nil
	}

	start, err := c.gw.SuggestedStart(ctx, c.kind, c.examID)
	if err != nil {
		return c.fail(errors.Wrap(err, "fetching suggested start"))
	}
	c.mu.Lock()
	if !c.startTouched {
		c.startFrom = start
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) refresh(ctx context.Context) error {
	list, err := c.gw.ListStudents(ctx, c.examID, "")
	if err != nil {
		return c.fail(errors.Wrap(err, "fetching students"))
	}
	c.mu.Lock()
	c.students = list
	c.mu.Unlock()
	return nil
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// StartFrom is the value the next preview starts from.
func (c *Controller) StartFrom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startFrom
}

// SetStartFrom records a user typed start value; it is no longer replaced by the suggested one.
func (c *Controller) SetStartFrom(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startFrom = v
	c.startTouched = true
}

// Preview asks the server for a preview. On success it replaces any held preview in full.
// On failure the workflow returns to idle without a preview.
func (c *Controller) Preview(ctx context.Context, f Filter) (exam.PreviewResponse, error) {
	c.mu.Lock()
	req, err := BuildRequest(c.examID, f, c.startFrom)
	if err != nil {
		c.mu.Unlock()
		return exam.PreviewResponse{}, err
	}
	if c.state != StateIdle && c.state != StateReviewing {
		c.mu.Unlock()
		return exam.PreviewResponse{}, ErrBusy
	}
	if s := core.CleanString(f.StartFrom); s != "" {
		c.startFrom, c.startTouched = s, true
	}
	c.preview = nil
	c.lastErr = nil
	c.setState(StatePreviewing)
	gen := c.gen
	c.mu.Unlock()

	resp, err := c.gw.Preview(ctx, c.kind, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return exam.PreviewResponse{}, ErrAbandoned
	}
	if err != nil {
		c.lastErr = errors.Wrap(err, "previewing numbers")
		c.setState(StateIdle)
		return exam.PreviewResponse{}, c.lastErr
	}
	c.preview = &resp
	c.setState(StateReviewing)
	return resp, nil
}

// Current returns the held preview, if any.
func (c *Controller) Current() (exam.PreviewResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preview == nil {
		return exam.PreviewResponse{}, false
	}
	return *c.preview, true
}

// VisibleItems is the head of the held preview shown for review. Confirm always commits every item.
func (c *Controller) VisibleItems() []exam.PreviewItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preview == nil {
		return nil
	}
	items := c.preview.Items
	if len(items) > c.opts.DisplayLimit {
		items = items[:c.opts.DisplayLimit]
	}
	out := make([]exam.PreviewItem, len(items))
	copy(out, items)
	return out
}

// Confirm commits the whole held preview.
//
// When the preview reassigns numbers, ack is asked first with the override count; a refusal
// (or a nil ack) keeps the preview under review and sends nothing.
// On success the preview is dropped and the enrollment list refetched.
// On failure the preview is kept so the commit can be retried.
func (c *Controller) Confirm(ctx context.Context, ack Acknowledger) (exam.ConfirmResult, error) {
	c.mu.Lock()
	if c.state != StateReviewing || c.preview == nil {
		c.mu.Unlock()
		return exam.ConfirmResult{}, ErrNotReviewing
	}
	preview := c.preview
	gen := c.gen
	c.mu.Unlock()

	if n := preview.WillOverrideCount; n > 0 {
		if ack == nil || !ack.AcknowledgeOverrides(ctx, c.kind, n) {
			return exam.ConfirmResult{}, ErrNotAcknowledged
		}
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateReviewing || c.preview != preview {
		c.mu.Unlock()
		return exam.ConfirmResult{}, ErrNotReviewing
	}
	c.lastErr = nil
	c.setState(StateConfirming)
	c.mu.Unlock()

	res, err := c.gw.Confirm(ctx, c.kind, c.examID, preview.ConfirmItems())

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return res, ErrAbandoned
	}
	if err != nil {
		c.lastErr = errors.Wrap(err, "confirming numbers")
		c.setState(StateReviewing)
		c.mu.Unlock()
		return res, c.lastErr
	}
	c.preview = nil
	c.setState(StateIdle)
	c.mu.Unlock()

	// committed; a failed refetch is only recorded
	_ = c.refresh(ctx)
	return res, nil
}

// Cancel drops the held preview without sending anything. A request in flight is not aborted,
// its result will be ignored.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
}

func (c *Controller) cancel() {
	switch c.state {
	case StateReviewing:
		c.setState(StateDiscarded)
	case StatePreviewing, StateConfirming:
		c.gen++
	}
	c.preview = nil
	c.setState(StateIdle)
}

// Close cancels the preview and the active edit.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	c.edit = nil
	c.editGen++
}
