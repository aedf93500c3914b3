package exam_test

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
	"github.com/trezcool/nambari/services/email"
	"github.com/trezcool/nambari/storage/database/inmem"
	"github.com/trezcool/nambari/tests"
)

type svcSetup struct {
	svc     exam.Service
	fix     *testutil.ExamFixture
	mailSvc *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T, status ...exam.Status) svcSetup {
	conf := core.NewTestConfig()
	conf.Email.NotifyAddress = "Exams Office <exams@school.test>"

	fix := testutil.NewExamFixture(t, nil, status...)
	repo := inmemdb.NewExamRepository(fix.DB)
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	return svcSetup{
		svc:     exam.NewService(repo, repo, mailSvc, core.NopLogger, conf),
		fix:     fix,
		mailSvc: mailSvc,
	}
}

func (s svcSetup) students(t *testing.T) map[string]exam.ExamStudent {
	list, err := s.svc.ListStudents(context.Background(), s.fix.Tenant, s.fix.Exam.ID, "")
	require.NoError(t, err)
	byID := make(map[string]exam.ExamStudent, len(list.Students))
	for _, st := range list.Students {
		byID[st.ExamStudentID] = st
	}
	return byID
}

func TestService_ListStudents(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	s.fix.AddStudent(t, s.fix.ClassB, "Zoe", "1002", "")
	s.fix.AddStudent(t, s.fix.ClassA, "Yan", "", "5")
	s.fix.AddStudent(t, s.fix.ClassA, "Abe", "1001", "6")

	list, err := s.svc.ListStudents(ctx, s.fix.Tenant, s.fix.Exam.ID, "")
	require.NoError(t, err)
	require.Len(t, list.Students, 3)
	assert.Equal(t, "Abe", list.Students[0].FullName)
	assert.Equal(t, "Yan", list.Students[1].FullName)
	assert.Equal(t, "Zoe", list.Students[2].FullName)
	assert.Equal(t, exam.Summary{Total: 3, WithRollNumber: 2, WithSecretNumber: 2, MissingRollNumber: 1, MissingSecretNumber: 1}, list.Summary)
	assert.Equal(t, s.fix.Exam.Name, list.Exam.Name)

	classA, err := s.svc.ListStudents(ctx, s.fix.Tenant, s.fix.Exam.ID, s.fix.ClassA.ID)
	require.NoError(t, err)
	assert.Len(t, classA.Students, 2)

	_, err = s.svc.ListStudents(ctx, testutil.NewTenant(), s.fix.Exam.ID, "")
	assert.Equal(t, exam.ErrNotFound, err, "other tenants cannot see the exam")
}

func TestService_SuggestedStart(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	roll, err := s.svc.SuggestedStart(ctx, s.fix.Tenant, exam.KindRoll, s.fix.Exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "1001", roll.SuggestedStartFrom)

	s.fix.AddStudent(t, s.fix.ClassA, "Abe", "", "41")
	secret, err := s.svc.SuggestedStart(ctx, s.fix.Tenant, exam.KindSecret, s.fix.Exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "42", secret.SuggestedStartFrom)
}

func TestService_Preview(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	s.fix.AddStudent(t, s.fix.ClassA, "Ann", "", "")
	s.fix.AddStudent(t, s.fix.ClassA, "Ben", "1005", "")
	s.fix.AddStudent(t, s.fix.ClassB, "Cat", "1", "")

	resp, err := s.svc.Preview(ctx, s.fix.Tenant, exam.KindRoll, exam.AssignmentRequest{
		ExamID: s.fix.Exam.ID, Scope: exam.ScopeClass, ExamClassID: s.fix.ClassA.ID, StartFrom: "1",
	})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, "1", resp.Items[0].New)
	assert.True(t, resp.Items[0].HasCollision, "Cat already holds 1 in another class")
	assert.Equal(t, "1005", resp.Items[1].New)

	resp, err = s.svc.Preview(ctx, s.fix.Tenant, exam.KindRoll, exam.AssignmentRequest{
		ExamID: s.fix.Exam.ID, Scope: exam.ScopeExam, StartFrom: "10", OverrideExisting: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.WillOverrideCount)

	t.Run("class scope without class", func(t *testing.T) {
		_, err := s.svc.Preview(ctx, s.fix.Tenant, exam.KindRoll, exam.AssignmentRequest{
			ExamID: s.fix.Exam.ID, Scope: exam.ScopeClass, StartFrom: "1",
		})
		var verr *core.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "exam_class_id", verr.Fields[0].Field)
	})

	t.Run("class from another exam", func(t *testing.T) {
		other := testutil.NewExamFixture(t, s.fix.DB)
		_, err := s.svc.Preview(ctx, s.fix.Tenant, exam.KindRoll, exam.AssignmentRequest{
			ExamID: s.fix.Exam.ID, Scope: exam.ScopeClass, ExamClassID: other.ClassA.ID, StartFrom: "1",
		})
		var verr *core.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, exam.ErrClassNotFound, verr.Err)
	})
}

func TestService_Confirm(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	ann := s.fix.AddStudent(t, s.fix.ClassA, "Ann", "1", "")
	ben := s.fix.AddStudent(t, s.fix.ClassA, "Ben", "2", "")
	cat := s.fix.AddStudent(t, s.fix.ClassB, "Cat", "", "")

	t.Run("swap", func(t *testing.T) {
		res, err := s.svc.Confirm(ctx, s.fix.Tenant, exam.KindRoll, s.fix.Exam.ID, []exam.ConfirmItem{
			{Kind: exam.KindRoll, ExamStudentID: ann.ExamStudentID, NewNumber: "2"},
			{Kind: exam.KindRoll, ExamStudentID: ben.ExamStudentID, NewNumber: "1"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Updated)
		assert.Empty(t, res.Errors)

		byID := s.students(t)
		assert.Equal(t, null.StringFrom("2"), byID[ann.ExamStudentID].ExamRollNumber)
		assert.Equal(t, null.StringFrom("1"), byID[ben.ExamStudentID].ExamRollNumber)

		acts := s.fix.DB.Activities()
		require.Len(t, acts, 1)
		assert.Equal(t, "exam.roll_numbers.assigned", acts[0].Event)
		assert.Equal(t, 2, acts[0].Properties["overridden"])

		sent := s.mailSvc.SentMessages()
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].TextContent, "assigned 2 roll number(s)")
		assert.Contains(t, sent[0].TextContent, "2 existing number(s) were replaced")
	})

	t.Run("any bad item rejects the batch", func(t *testing.T) {
		res, err := s.svc.Confirm(ctx, s.fix.Tenant, exam.KindRoll, s.fix.Exam.ID, []exam.ConfirmItem{
			{Kind: exam.KindRoll, ExamStudentID: cat.ExamStudentID, NewNumber: "3"},
			{Kind: exam.KindRoll, ExamStudentID: ann.ExamStudentID, NewNumber: "1"}, // Ben holds 1
		})
		var berr *exam.BatchError
		require.True(t, errors.As(err, &berr))
		require.Len(t, res.Errors, 1)
		assert.Equal(t, ann.ExamStudentID, res.Errors[0].ExamStudentID)
		assert.Zero(t, res.Updated)

		byID := s.students(t)
		assert.False(t, byID[cat.ExamStudentID].ExamRollNumber.Valid, "nothing was written")
		assert.Len(t, s.fix.DB.Activities(), 1)
	})

	t.Run("unknown student and invalid number", func(t *testing.T) {
		other := testutil.NewExamFixture(t, s.fix.DB)
		stranger := other.AddStudent(t, other.ClassA, "Dan", "", "")
		res, err := s.svc.Confirm(ctx, s.fix.Tenant, exam.KindRoll, s.fix.Exam.ID, []exam.ConfirmItem{
			{Kind: exam.KindRoll, ExamStudentID: stranger.ExamStudentID, NewNumber: "9"},
			{Kind: exam.KindRoll, ExamStudentID: cat.ExamStudentID, NewNumber: "has space"},
		})
		assert.Error(t, err)
		require.Len(t, res.Errors, 2)
		assert.Equal(t, exam.ErrStudentNotFound.Error(), res.Errors[0].Error)
		assert.Equal(t, "invalid roll number", res.Errors[1].Error)
	})

	t.Run("duplicates within the batch", func(t *testing.T) {
		res, err := s.svc.Confirm(ctx, s.fix.Tenant, exam.KindSecret, s.fix.Exam.ID, []exam.ConfirmItem{
			{Kind: exam.KindSecret, ExamStudentID: ann.ExamStudentID, NewNumber: "7"},
			{Kind: exam.KindSecret, ExamStudentID: cat.ExamStudentID, NewNumber: "7"},
		})
		assert.Error(t, err)
		assert.Len(t, res.Errors, 2)
	})
}

func TestService_LockedExam(t *testing.T) {
	for _, st := range []exam.Status{exam.StatusCompleted, exam.StatusArchived} {
		t.Run(string(st), func(t *testing.T) {
			s := setup(t, st)
			ctx := context.Background()
			ann := s.fix.AddStudent(t, s.fix.ClassA, "Ann", "", "")

			_, err := s.svc.Preview(ctx, s.fix.Tenant, exam.KindRoll, exam.AssignmentRequest{
				ExamID: s.fix.Exam.ID, Scope: exam.ScopeExam, StartFrom: "1",
			})
			assert.Equal(t, exam.ErrExamLocked, err)

			_, err = s.svc.Confirm(ctx, s.fix.Tenant, exam.KindRoll, s.fix.Exam.ID, []exam.ConfirmItem{
				{Kind: exam.KindRoll, ExamStudentID: ann.ExamStudentID, NewNumber: "1"},
			})
			assert.Equal(t, exam.ErrExamLocked, err)

			_, err = s.svc.UpdateNumber(ctx, s.fix.Tenant, exam.NumberUpdate{
				Kind: exam.KindRoll, ExamID: s.fix.Exam.ID, ExamStudentID: ann.ExamStudentID, Number: null.StringFrom("1"),
			})
			assert.Equal(t, exam.ErrExamLocked, err)

			// reads stay available
			_, err = s.svc.ListStudents(ctx, s.fix.Tenant, s.fix.Exam.ID, "")
			assert.NoError(t, err)
		})
	}
}

func TestService_UpdateNumber(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	ann := s.fix.AddStudent(t, s.fix.ClassA, "Ann", "", "11")
	ben := s.fix.AddStudent(t, s.fix.ClassA, "Ben", "", "12")

	upd := exam.NumberUpdate{Kind: exam.KindSecret, ExamID: s.fix.Exam.ID, ExamStudentID: ann.ExamStudentID}

	upd.Number = null.StringFrom(" 20 ")
	got, err := s.svc.UpdateNumber(ctx, s.fix.Tenant, upd)
	require.NoError(t, err)
	assert.Equal(t, null.StringFrom("20"), got.ExamSecretNumber)

	upd.Number = null.StringFrom("12")
	_, err = s.svc.UpdateNumber(ctx, s.fix.Tenant, upd)
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, exam.ErrNumberTaken, verr.Err)
	assert.Equal(t, "exam_secret_number", verr.Fields[0].Field)

	upd.Number = null.StringFrom("   ")
	got, err = s.svc.UpdateNumber(ctx, s.fix.Tenant, upd)
	require.NoError(t, err)
	assert.False(t, got.ExamSecretNumber.Valid, "blank clears the number")
	assert.Equal(t, null.StringFrom("12"), s.students(t)[ben.ExamStudentID].ExamSecretNumber)

	upd.Number = null.StringFrom(strings.Repeat("9", core.MaxNumberLen+1))
	_, err = s.svc.UpdateNumber(ctx, s.fix.Tenant, upd)
	assert.True(t, errors.As(err, &verr))

	upd.ExamStudentID = "missing"
	upd.Number = null.StringFrom("1")
	_, err = s.svc.UpdateNumber(ctx, s.fix.Tenant, upd)
	assert.Equal(t, exam.ErrStudentNotFound, err)

	acts := s.fix.DB.Activities()
	require.Len(t, acts, 2)
	assert.Equal(t, "exam.secret_number.updated", acts[0].Event)
	assert.Equal(t, null.StringFrom("11"), acts[0].Properties["old"])
	assert.Equal(t, null.StringFrom("20"), acts[0].Properties["new"])
}

func TestService_LookupSecret(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	ann := s.fix.AddStudent(t, s.fix.ClassA, "Ann", "1001", "S-1")

	res, err := s.svc.LookupSecret(ctx, s.fix.Tenant, s.fix.Exam.ID, "  S-1 ")
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, ann.ExamStudentID, res.Student.ExamStudentID)
	assert.Equal(t, s.fix.Exam.ID, res.Exam.ID)

	res, err = s.svc.LookupSecret(ctx, s.fix.Tenant, s.fix.Exam.ID, "S-2")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Nil(t, res.Student)

	_, err = s.svc.LookupSecret(ctx, s.fix.Tenant, s.fix.Exam.ID, "   ")
	var verr *core.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = s.svc.LookupSecret(ctx, testutil.NewTenant(), s.fix.Exam.ID, "S-1")
	assert.Equal(t, exam.ErrNotFound, err)
}

func TestService_Reports(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	s.fix.AddStudent(t, s.fix.ClassA, "Ann Lee", "1010", "S-1")
	s.fix.AddStudent(t, s.fix.ClassA, "Ben Ray", "1002", "")
	s.fix.AddStudent(t, s.fix.ClassB, "Cat Moe", "", "S-2")

	report, err := s.svc.RollNumberReport(ctx, s.fix.Tenant, s.fix.Exam.ID, "")
	require.NoError(t, err)
	require.Equal(t, 2, report.Total)
	assert.Equal(t, "Ben Ray", report.Students[0].FullName, "ordered by roll number")

	slips, err := s.svc.RollSlips(ctx, s.fix.Tenant, s.fix.Exam.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, slips.TotalSlips)
	assert.Contains(t, slips.HTML, "Ann Lee")
	assert.Contains(t, slips.HTML, "data:image/png;base64,")
	assert.NotContains(t, slips.HTML, "Cat Moe")

	labels, err := s.svc.SecretLabels(ctx, s.fix.Tenant, s.fix.Exam.ID, s.fix.ClassB.ID, exam.ParseLayout("single"))
	require.NoError(t, err)
	assert.Equal(t, 1, labels.TotalLabels)
	assert.Contains(t, labels.HTML, `class="labels single"`)
	assert.Contains(t, labels.HTML, "S-2")
	assert.NotContains(t, labels.HTML, "Cat Moe", "labels are anonymous")
}
