package database

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
)

// InsertExam inserts an exam with its classes and students.
// Students are attached to their class through ExamClassID.
func InsertExam(ctx context.Context, exec core.DBExecutor, ex exam.Exam, classes []exam.ExamClass, students []exam.ExamStudent) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO exams (id, organization_id, school_id, name, academic_year, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		ex.ID, ex.OrganizationID, ex.SchoolID, ex.Name, ex.AcademicYear, string(ex.Status), ex.CreatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "inserting exam")
	}

	for _, c := range classes {
		_, err = exec.ExecContext(ctx, `
			INSERT INTO exam_classes (id, exam_id, organization_id, school_id, class_name, section)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, ex.ID, ex.OrganizationID, ex.SchoolID, c.ClassName, c.Section)
		if err != nil {
			return errors.Wrapf(err, "inserting exam class %s", c.ClassName)
		}
	}

	for _, s := range students {
		_, err = exec.ExecContext(ctx, `
			INSERT INTO exam_students (
				id, exam_id, exam_class_id, organization_id, school_id, student_id, student_code,
				full_name, father_name, province, exam_roll_number, exam_secret_number, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
			s.ExamStudentID, ex.ID, s.ExamClassID, ex.OrganizationID, ex.SchoolID, s.StudentID, s.StudentCode,
			s.FullName, s.FatherName, s.Province, s.ExamRollNumber, s.ExamSecretNumber, ex.CreatedAt.UTC())
		if err != nil {
			return errors.Wrapf(err, "inserting exam student %s", s.FullName)
		}
	}
	return nil
}

// Truncate empties every application table.
func Truncate(ctx context.Context, exec core.DBExecutor) error {
	_, err := exec.ExecContext(ctx, "TRUNCATE activity_logs, exam_students, exam_classes, exams")
	return errors.Wrap(err, "truncating tables")
}
