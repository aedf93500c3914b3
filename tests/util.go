package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nambari/core/exam"
	"github.com/trezcool/nambari/storage/database/inmem"
)

// ExamFixture is an exam with two classes, stored in an in-memory database.
type ExamFixture struct {
	DB     *inmemdb.DB
	Tenant exam.Tenant
	Exam   exam.Exam
	ClassA exam.ExamClass
	ClassB exam.ExamClass

	Students []exam.ExamStudent
}

func NewTenant() exam.Tenant {
	return exam.Tenant{
		OrganizationID: uuid.New().String(),
		SchoolID:       uuid.New().String(),
		ActorID:        uuid.New().String(),
		ActorName:      "Test Admin",
	}
}

// NewExamFixture creates the fixture on db (a new one when nil).
func NewExamFixture(t *testing.T, db *inmemdb.DB, status ...exam.Status) *ExamFixture {
	t.Helper()
	if db == nil {
		db = inmemdb.Open()
	}
	st := exam.StatusScheduled
	if len(status) > 0 {
		st = status[0]
	}

	f := &ExamFixture{DB: db, Tenant: NewTenant()}
	f.Exam = exam.Exam{
		ID:             uuid.New().String(),
		OrganizationID: f.Tenant.OrganizationID,
		SchoolID:       f.Tenant.SchoolID,
		Name:           "Final Exam",
		AcademicYear:   "2026-2027",
		Status:         st,
		CreatedAt:      time.Now().UTC(),
	}
	db.AddExam(f.Exam)

	f.ClassA = exam.ExamClass{ID: uuid.New().String(), ExamID: f.Exam.ID, ClassName: "Grade 10", Section: null.StringFrom("A")}
	f.ClassB = exam.ExamClass{ID: uuid.New().String(), ExamID: f.Exam.ID, ClassName: "Grade 11", Section: null.StringFrom("B")}
	db.AddClass(f.ClassA)
	db.AddClass(f.ClassB)
	return f
}

// AddStudent enrolls a student in cls. Empty numbers are stored as null.
func (f *ExamFixture) AddStudent(t *testing.T, cls exam.ExamClass, name, roll, secret string) exam.ExamStudent {
	t.Helper()
	s := exam.ExamStudent{
		ExamStudentID:    uuid.New().String(),
		ExamID:           f.Exam.ID,
		ExamClassID:      cls.ID,
		StudentID:        null.StringFrom(uuid.New().String()),
		FullName:         name,
		FatherName:       null.StringFrom("Father of " + name),
		ClassName:        cls.ClassName,
		Section:          cls.Section,
		ExamRollNumber:   null.NewString(roll, roll != ""),
		ExamSecretNumber: null.NewString(secret, secret != ""),
	}
	f.DB.AddStudent(s)
	f.Students = append(f.Students, s)
	return s
}
