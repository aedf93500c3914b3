package numbering_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
	"github.com/trezcool/nambari/core/numbering"
	"github.com/trezcool/nambari/storage/database/inmem"
	"github.com/trezcool/nambari/tests"
)

var errServer = errors.New("server unavailable")

const (
	time2s = 2 * time.Second
	tick   = 10 * time.Millisecond
)

// fakeGateway serves the workflow from an in-memory exam service and counts the requests.
type fakeGateway struct {
	svc    exam.Service
	tenant exam.Tenant

	mu         sync.Mutex
	calls      map[string]int
	failNext   map[string]error
	blockNext  map[string]chan struct{} // closed by the test to release the call
	lastItems  []exam.ConfirmItem
	lastUpdate exam.NumberUpdate
}

func newFakeGateway(fix *testutil.ExamFixture) *fakeGateway {
	repo := inmemdb.NewExamRepository(fix.DB)
	return &fakeGateway{
		svc:       exam.NewService(repo, repo, nil, core.NopLogger, core.NewTestConfig()),
		tenant:    fix.Tenant,
		calls:     make(map[string]int),
		failNext:  make(map[string]error),
		blockNext: make(map[string]chan struct{}),
	}
}

func (gw *fakeGateway) enter(op string) error {
	gw.mu.Lock()
	gw.calls[op]++
	err := gw.failNext[op]
	delete(gw.failNext, op)
	block := gw.blockNext[op]
	delete(gw.blockNext, op)
	gw.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (gw *fakeGateway) count(op string) int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.calls[op]
}

func (gw *fakeGateway) fail(op string, err error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.failNext[op] = err
}

func (gw *fakeGateway) block(op string) chan struct{} {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	ch := make(chan struct{})
	gw.blockNext[op] = ch
	return ch
}

func (gw *fakeGateway) ListExamClasses(ctx context.Context, examID string) ([]exam.ExamClass, error) {
	if err := gw.enter("classes"); err != nil {
		return nil, err
	}
	return gw.svc.ListClasses(ctx, gw.tenant, examID)
}

func (gw *fakeGateway) ListStudents(ctx context.Context, examID, examClassID string) (exam.StudentList, error) {
	if err := gw.enter("students"); err != nil {
		return exam.StudentList{}, err
	}
	return gw.svc.ListStudents(ctx, gw.tenant, examID, examClassID)
}

func (gw *fakeGateway) SuggestedStart(ctx context.Context, kind exam.NumberKind, examID string) (string, error) {
	if err := gw.enter("start"); err != nil {
		return "", err
	}
	start, err := gw.svc.SuggestedStart(ctx, gw.tenant, kind, examID)
	return start.SuggestedStartFrom, err
}

func (gw *fakeGateway) Preview(ctx context.Context, kind exam.NumberKind, req exam.AssignmentRequest) (exam.PreviewResponse, error) {
	if err := gw.enter("preview"); err != nil {
		return exam.PreviewResponse{}, err
	}
	return gw.svc.Preview(ctx, gw.tenant, kind, req)
}

func (gw *fakeGateway) Confirm(ctx context.Context, kind exam.NumberKind, examID string, items []exam.ConfirmItem) (exam.ConfirmResult, error) {
	gw.mu.Lock()
	gw.lastItems = items
	gw.mu.Unlock()
	if err := gw.enter("confirm"); err != nil {
		return exam.ConfirmResult{}, err
	}
	return gw.svc.Confirm(ctx, gw.tenant, kind, examID, items)
}

func (gw *fakeGateway) UpdateNumber(ctx context.Context, upd exam.NumberUpdate) (exam.ExamStudent, error) {
	gw.mu.Lock()
	gw.lastUpdate = upd
	gw.mu.Unlock()
	if err := gw.enter("update"); err != nil {
		return exam.ExamStudent{}, err
	}
	return gw.svc.UpdateNumber(ctx, gw.tenant, upd)
}

func (gw *fakeGateway) LookupSecret(ctx context.Context, examID, secret string) (exam.LookupResult, error) {
	if err := gw.enter("lookup"); err != nil {
		return exam.LookupResult{}, err
	}
	return gw.svc.LookupSecret(ctx, gw.tenant, examID, secret)
}

// ackRecorder records the override counts it was asked about.
type ackRecorder struct {
	answer bool
	asked  []int
}

func (a *ackRecorder) AcknowledgeOverrides(_ context.Context, _ exam.NumberKind, count int) bool {
	a.asked = append(a.asked, count)
	return a.answer
}

type ctrlSetup struct {
	fix         *testutil.ExamFixture
	gw          *fakeGateway
	ctrl        *numbering.Controller
	transitions []numbering.State
}

func setup(t *testing.T, kind exam.NumberKind, opts ...numbering.Options) *ctrlSetup {
	fix := testutil.NewExamFixture(t, nil)
	s := &ctrlSetup{fix: fix, gw: newFakeGateway(fix)}

	var o numbering.Options
	if len(opts) > 0 {
		o = opts[0]
	}
	o.OnTransition = func(_, to numbering.State) { s.transitions = append(s.transitions, to) }
	s.ctrl = numbering.NewController(s.gw, kind, fix.Exam.ID, o)
	return s
}

func (s *ctrlSetup) load(t *testing.T) {
	require.NoError(t, s.ctrl.Load(context.Background()))
}

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name    string
		examID  string
		filter  numbering.Filter
		start   string
		want    exam.AssignmentRequest
		wantErr error
	}{
		{name: "no exam", filter: numbering.Filter{Scope: exam.ScopeExam}, wantErr: numbering.ErrNoExam},
		{name: "class scope without class", examID: "e1", filter: numbering.Filter{Scope: exam.ScopeClass}, wantErr: numbering.ErrClassRequired},
		{
			name:   "defaults to exam scope and held start",
			examID: "e1",
			filter: numbering.Filter{ExamClassID: "ignored"},
			start:  "1001",
			want:   exam.AssignmentRequest{ExamID: "e1", StartFrom: "1001", Scope: exam.ScopeExam},
		},
		{
			name:   "typed start wins and is passed as is",
			examID: "e1",
			filter: numbering.Filter{Scope: exam.ScopeClass, ExamClassID: "c1", StartFrom: " A-07 ", OverrideExisting: true},
			start:  "1001",
			want:   exam.AssignmentRequest{ExamID: "e1", ExamClassID: "c1", StartFrom: "A-07", Scope: exam.ScopeClass, OverrideExisting: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := numbering.BuildRequest(tt.examID, tt.filter, tt.start)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestController_Load(t *testing.T) {
	s := setup(t, exam.KindRoll)
	s.fix.AddStudent(t, s.fix.ClassA, "Abe", "1004", "")
	s.load(t)

	assert.Equal(t, "1005", s.ctrl.StartFrom(), "suggested start pre-fills the field")
	assert.Len(t, s.ctrl.Students().Students, 1)

	s.ctrl.SetStartFrom("200")
	s.load(t)
	assert.Equal(t, "200", s.ctrl.StartFrom(), "a typed value is never replaced")
	assert.Equal(t, 1, s.gw.count("start"))

	empty := numbering.NewController(s.gw, exam.KindRoll, " ", numbering.Options{})
	assert.Equal(t, numbering.ErrNoExam, empty.Load(context.Background()))
}

func TestController_Preview_preconditions(t *testing.T) {
	s := setup(t, exam.KindRoll)
	ctx := context.Background()

	empty := numbering.NewController(s.gw, exam.KindRoll, "", numbering.Options{})
	_, err := empty.Preview(ctx, numbering.Filter{Scope: exam.ScopeExam, StartFrom: "1"})
	assert.Equal(t, numbering.ErrNoExam, err)
	assert.Equal(t, numbering.StateIdle, empty.State())

	_, err = s.ctrl.Preview(ctx, numbering.Filter{Scope: exam.ScopeClass, StartFrom: "1"})
	assert.Equal(t, numbering.ErrClassRequired, err)
	assert.Equal(t, 0, s.gw.count("preview"), "refused locally")
	assert.Empty(t, s.transitions)
}

// A preview over 3 students, one already holding 1005, without override.
func TestController_Preview_keepsAssignedWithoutOverride(t *testing.T) {
	s := setup(t, exam.KindRoll)
	s.fix.AddStudent(t, s.fix.ClassA, "Abe", "", "")
	held := s.fix.AddStudent(t, s.fix.ClassA, "Bea", "1005", "")
	s.fix.AddStudent(t, s.fix.ClassA, "Cid", "", "")
	s.load(t)

	resp, err := s.ctrl.Preview(context.Background(), numbering.Filter{Scope: exam.ScopeExam, StartFrom: "1001"})
	require.NoError(t, err)
	assert.Equal(t, numbering.StateReviewing, s.ctrl.State())
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, len(resp.Items), resp.Total)

	var overrides int
	for _, it := range resp.Items {
		if it.WillOverride {
			overrides++
			assert.True(t, it.Current.Valid, "only held numbers can be overridden")
		}
		if it.ExamStudentID == held.ExamStudentID {
			assert.False(t, it.WillOverride)
			assert.Equal(t, "1005", it.New)
		}
	}
	assert.Equal(t, overrides, resp.WillOverrideCount)
	assert.Equal(t, []numbering.State{numbering.StatePreviewing, numbering.StateReviewing}, s.transitions)
}

func TestController_Preview_replacesAndFails(t *testing.T) {
	s := setup(t, exam.KindSecret)
	s.fix.AddStudent(t, s.fix.ClassA, "Abe", "", "")
	s.fix.AddStudent(t, s.fix.ClassB, "Bea", "", "")
	ctx := context.Background()
	s.load(t)
	assert.Equal(t, "1", s.ctrl.StartFrom())

	_, err := s.ctrl.Preview(ctx, numbering.Filter{Scope: exam.ScopeExam})
	require.NoError(t, err)
	resp, err := s.ctrl.Preview(ctx, numbering.Filter{Scope: exam.ScopeClass, ExamClassID: s.fix.ClassB.ID, StartFrom: "40"})
	require.NoError(t, err)
	held, ok := s.ctrl.Current()
	require.True(t, ok)
	assert.Equal(t, resp, held, "new preview replaces the old one in full")
	require.Len(t, held.Items, 1)
	assert.Equal(t, "40", held.Items[0].New)
	assert.Equal(t, "40", s.ctrl.StartFrom())

	s.gw.fail("preview", errServer)
	_, err = s.ctrl.Preview(ctx, numbering.Filter{Scope: exam.ScopeExam})
	assert.Equal(t, errServer, errors.Cause(err))
	assert.Equal(t, numbering.StateIdle, s.ctrl.State())
	_, ok = s.ctrl.Current()
	assert.False(t, ok, "no partial state after a failed preview")
	assert.Equal(t, err, s.ctrl.Err())

	s.ctrl.ClearErr()
	assert.NoError(t, s.ctrl.Err())
	assert.Equal(t, numbering.StateIdle, s.ctrl.State(), "dismissing the error keeps the state")
}

func TestController_VisibleItems(t *testing.T) {
	s := setup(t, exam.KindRoll, numbering.Options{DisplayLimit: 2})
	for _, name := range []string{"Abe", "Bea", "Cid", "Dan"} {
		s.fix.AddStudent(t, s.fix.ClassA, name, "", "")
	}
	s.load(t)

	_, err := s.ctrl.Preview(context.Background(), numbering.Filter{Scope: exam.ScopeExam})
	require.NoError(t, err)
	assert.Len(t, s.ctrl.VisibleItems(), 2)

	_, err = s.ctrl.Confirm(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, s.gw.lastItems, 4, "commit sends every item, not only the visible ones")
}

func TestController_Confirm_withoutOverrides(t *testing.T) {
	s := setup(t, exam.KindRoll)
	abe := s.fix.AddStudent(t, s.fix.ClassA, "Abe", "", "")
	s.fix.AddStudent(t, s.fix.ClassA, "Bea", "", "")
	ctx := context.Background()
	s.load(t)

	_, err := s.ctrl.Preview(ctx, numbering.Filter{Scope: exam.ScopeExam})
	require.NoError(t, err)

	ack := &ackRecorder{answer: false}
	res, err := s.ctrl.Confirm(ctx, ack)
	require.NoError(t, err)
	assert.Empty(t, ack.asked, "no acknowledgement without overrides")
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, numbering.StateIdle, s.ctrl.State())
	_, ok := s.ctrl.Current()
	assert.False(t, ok)

	// enrollment list refetched
	got, ok := s.ctrl.Students().Find(abe.ExamStudentID)
	require.True(t, ok)
	assert.Equal(t, null.StringFrom("1001"), got.ExamRollNumber)
	assert.Equal(t, 2, s.gw.count("students"))
	assert.Equal(t, []numbering.State{
		numbering.StatePreviewing, numbering.StateReviewing, numbering.StateConfirming, numbering.StateIdle,
	}, s.transitions)
}

func TestController_Confirm_overrides(t *testing.T) {
	s := setup(t, exam.KindRoll)
	s.fix.AddStudent(t, s.fix.ClassA, "Abe", "7", "")
	s.fix.AddStudent(t, s.fix.ClassA, "Bea", "9", "")
	ctx := context.Background()
	s.load(t)

	resp, err := s.ctrl.Preview(ctx, numbering.Filter{Scope: exam.ScopeExam, StartFrom: "1", OverrideExisting: true})
	require.NoError(t, err)
	require.Equal(t, 2, resp.WillOverrideCount)

	// refused: nothing sent, still reviewing
	refuse := &ackRecorder{answer: false}
	_, err = s.ctrl.Confirm(ctx, refuse)
	assert.Equal(t, numbering.ErrNotAcknowledged, err)
	assert.Equal(t, []int{2}, refuse.asked, "asked with the override count")
	assert.Equal(t, 0, s.gw.count("confirm"))
	assert.Equal(t, numbering.StateReviewing, s.ctrl.State())

	_, err = s.ctrl.Confirm(ctx, nil)
	assert.Equal(t, numbering.ErrNotAcknowledged, err)

	accept := numbering.AcknowledgerFunc(func(_ context.Context, kind exam.NumberKind, count int) bool {
		assert.Equal(t, 0, s.gw.count("confirm"), "asked before the commit")
		assert.Equal(t, exam.KindRoll, kind)
		return true
	})
	res, err := s.ctrl.Confirm(ctx, accept)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, s.gw.count("confirm"))
}

func TestController_Confirm_failureKeepsPreview(t *testing.T) {
	s := setup(t, exam.KindRoll)
	s.fix.AddStudent(t, s.fix.ClassA, "Abe", "", "")
	ctx := context.Background()
	s.load(t)

	_, err := s.ctrl.Confirm(ctx, nil)
	assert.Equal(t, numbering.ErrNotReviewing, err)

	_, err = s.ctrl.Preview(ctx, numbering.Filter{Scope: exam.ScopeExam})
	require.NoError(t, err)

	s.gw.fail("confirm", errServer)
	_, err = s.ctrl.Confirm(ctx, nil)
	assert.Equal(t, errServer, errors.Cause(err))
	assert.Equal(t, numbering.StateReviewing, s.ctrl.State())
	_, ok := s.ctrl.Current()
	assert.True(t, ok, "preview retained for retry")

	res, err := s.ctrl.Confirm(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, s.gw.count("preview"), "retry does not preview again")
}

func TestController_Confirm_batchRejected(t *testing.T) {
	s := setup(t, exam.KindRoll)
	abe := s.fix.AddStudent(t, s.fix.ClassA, "Abe", "", "")
	s.fix.AddStudent(t, s.fix.ClassB, "Bea", "3", "")
	ctx := context.Background()
	s.load(t)

	resp, err := s.ctrl.Preview(ctx, numbering.Filter{Scope: exam.ScopeClass, ExamClassID: s.fix.ClassA.ID, StartFrom: "3"})
	require.NoError(t, err)
	require.True(t, resp.Items[0].HasCollision, "collisions are flagged, not excluded")

	res, err := s.ctrl.Confirm(ctx, nil)
	require.Error(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, abe.ExamStudentID, res.Errors[0].ExamStudentID)
	assert.Equal(t, numbering.StateReviewing, s.ctrl.State())

	got, _ := s.ctrl.Students().Find(abe.ExamStudentID)
	assert.False(t, got.ExamRollNumber.Valid, "nothing committed")
}

func TestController_Cancel(t *testing.T) {
	s := setup(t, exam.KindRoll)
	s.fix.AddStudent(t, s.fix.ClassA, "Abe", "5", "")
	ctx := context.Background()
	s.load(t)
	before := s.ctrl.Students()

	_, err := s.ctrl.Preview(ctx, numbering.Filter{Scope: exam.ScopeExam, StartFrom: "1", OverrideExisting: true})
	require.NoError(t, err)
	s.ctrl.Cancel()

	assert.Equal(t, numbering.StateIdle, s.ctrl.State())
	_, ok := s.ctrl.Current()
	assert.False(t, ok)
	assert.Equal(t, 0, s.gw.count("confirm"))
	assert.Equal(t, before, s.ctrl.Students(), "enrollment list untouched")
	assert.Equal(t, []numbering.State{
		numbering.StatePreviewing, numbering.StateReviewing, numbering.StateDiscarded, numbering.StateIdle,
	}, s.transitions)

	_, err = s.ctrl.Confirm(ctx, nil)
	assert.Equal(t, numbering.ErrNotReviewing, err)
}

func TestController_Cancel_inFlightResultIgnored(t *testing.T) {
	s := setup(t, exam.KindRoll)
	s.fix.AddStudent(t, s.fix.ClassA, "Abe", "", "")
	ctx := context.Background()
	s.load(t)

	release := s.gw.block("preview")
	done := make(chan error, 1)
	go func() {
		_, err := s.ctrl.Preview(ctx, numbering.Filter{Scope: exam.ScopeExam})
		done <- err
	}()

	require.Eventually(t, func() bool { return s.ctrl.State() == numbering.StatePreviewing }, time2s, tick)
	_, err := s.ctrl.Preview(ctx, numbering.Filter{Scope: exam.ScopeExam})
	assert.Equal(t, numbering.ErrBusy, err, "one preview at a time")

	s.ctrl.Close()
	close(release)

	assert.Equal(t, numbering.ErrAbandoned, <-done)
	assert.Equal(t, numbering.StateIdle, s.ctrl.State())
	_, ok := s.ctrl.Current()
	assert.False(t, ok, "late response is ignored")
}

func TestController_Lookup(t *testing.T) {
	s := setup(t, exam.KindSecret)
	abe := s.fix.AddStudent(t, s.fix.ClassA, "Abe", "", "4242")
	ctx := context.Background()

	res, err := s.ctrl.Lookup(ctx, " 4242 ")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, abe.ExamStudentID, res.Student.ExamStudentID)

	res, err = s.ctrl.Lookup(ctx, "7777")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Nil(t, res.Student)

	_, err = s.ctrl.Lookup(ctx, "   ")
	assert.Equal(t, numbering.ErrEmptySecret, err)
	assert.Equal(t, 2, s.gw.count("lookup"))
}
