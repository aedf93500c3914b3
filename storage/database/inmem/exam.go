package inmemdb

import (
	"context"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nambari/core/exam"
)

type examRepository struct {
	db *DB
	tx *examTables // set when bound to a transaction; the write lock is then already held
}

var (
	_ exam.Repository       = (*examRepository)(nil) // interface compliance check
	_ exam.ReportRepository = (*examRepository)(nil)
)

func NewExamRepository(db *DB) *examRepository {
	return &examRepository{db: db}
}

func (repo *examRepository) read(fn func(t *examTables) error) error {
	if repo.tx != nil {
		return fn(repo.tx)
	}
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return fn(repo.db.exam)
}

func (repo *examRepository) write(fn func(t *examTables) error) error {
	if repo.tx != nil {
		return fn(repo.tx)
	}
	return repo.RunInTx(context.Background(), func(r exam.Repository) error {
		return fn(r.(*examRepository).tx)
	})
}

func (repo *examRepository) RunInTx(_ context.Context, fn func(repo exam.Repository) error) error {
	if repo.tx != nil {
		return fn(repo)
	}

	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	tx := repo.db.exam.clone()
	if err := fn(&examRepository{db: repo.db, tx: tx}); err != nil {
		return err
	}
	if err := tx.checkUnique(); err != nil {
		return err
	}
	repo.db.exam = tx // commit
	return nil
}

func inTenant(ex exam.Exam, tenant exam.Tenant) bool {
	return ex.OrganizationID == tenant.OrganizationID && ex.SchoolID == tenant.SchoolID
}

func (repo *examRepository) GetExam(_ context.Context, tenant exam.Tenant, examID string) (exam.Exam, error) {
	var ex exam.Exam
	err := repo.read(func(t *examTables) error {
		var ok bool
		if ex, ok = t.exams[examID]; !ok || !inTenant(ex, tenant) {
			return exam.ErrNotFound
		}
		return nil
	})
	return ex, err
}

func (repo *examRepository) QueryExamClasses(_ context.Context, tenant exam.Tenant, examID string) ([]exam.ExamClass, error) {
	var classes []exam.ExamClass
	err := repo.read(func(t *examTables) error {
		if ex, ok := t.exams[examID]; !ok || !inTenant(ex, tenant) {
			return nil
		}
		for _, c := range t.classes {
			if c.ExamID == examID {
				classes = append(classes, c)
			}
		}
		return nil
	})
	exam.SortClasses(classes)
	return classes, err
}

func (repo *examRepository) QueryStudents(_ context.Context, tenant exam.Tenant, filter exam.StudentFilter) ([]exam.ExamStudent, error) {
	students := make([]exam.ExamStudent, 0)
	err := repo.read(func(t *examTables) error {
		if ex, ok := t.exams[filter.ExamID]; !ok || !inTenant(ex, tenant) {
			return nil
		}
		for _, s := range t.students {
			if s.ExamID != filter.ExamID {
				continue
			}
			if filter.ExamClassID != "" && s.ExamClassID != filter.ExamClassID {
				continue
			}
			if filter.SecretNumber != "" && s.ExamSecretNumber != null.StringFrom(filter.SecretNumber) {
				continue
			}
			students = append(students, s)
		}
		return nil
	})
	exam.SortStudents(students)
	return students, err
}

func (repo *examRepository) SetNumbers(_ context.Context, tenant exam.Tenant, kind exam.NumberKind, examID string, changes map[string]null.String, _ time.Time) error {
	return repo.write(func(t *examTables) error {
		if ex, ok := t.exams[examID]; !ok || !inTenant(ex, tenant) {
			return exam.ErrNotFound
		}
		for id, n := range changes {
			s, ok := t.students[id]
			if !ok || s.ExamID != examID {
				return exam.ErrStudentNotFound
			}
			s.SetNumber(kind, n)
			t.students[id] = s
		}
		return nil
	})
}

func (repo *examRepository) CreateActivity(_ context.Context, entry exam.ActivityEntry) error {
	return repo.write(func(t *examTables) error {
		t.activities = append(t.activities, entry)
		return nil
	})
}

func (repo *examRepository) QueryNumberedStudents(ctx context.Context, tenant exam.Tenant, kind exam.NumberKind, examID, examClassID string) ([]exam.ExamStudent, error) {
	all, err := repo.QueryStudents(ctx, tenant, exam.StudentFilter{ExamID: examID, ExamClassID: examClassID})
	if err != nil {
		return nil, err
	}
	numbered := make([]exam.ExamStudent, 0, len(all))
	for _, s := range all {
		if s.Number(kind).Valid {
			numbered = append(numbered, s)
		}
	}
	exam.SortByNumber(kind, numbered)
	return numbered, nil
}
