package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
	"github.com/trezcool/nambari/storage/database"
)

type (
	examRow struct {
		ID             string    `db:"id"`
		OrganizationID string    `db:"organization_id"`
		SchoolID       string    `db:"school_id"`
		Name           string    `db:"name"`
		AcademicYear   string    `db:"academic_year"`
		Status         string    `db:"status"`
		CreatedAt      time.Time `db:"created_at"`
	}

	classRow struct {
		ID        string      `db:"id"`
		ExamID    string      `db:"exam_id"`
		ClassName string      `db:"class_name"`
		Section   null.String `db:"section"`
	}

	studentRow struct {
		ID               string      `db:"id"`
		ExamID           string      `db:"exam_id"`
		ExamClassID      string      `db:"exam_class_id"`
		StudentID        null.String `db:"student_id"`
		StudentCode      null.String `db:"student_code"`
		FullName         string      `db:"full_name"`
		FatherName       null.String `db:"father_name"`
		ClassName        string      `db:"class_name"`
		Section          null.String `db:"section"`
		Province         null.String `db:"province"`
		ExamRollNumber   null.String `db:"exam_roll_number"`
		ExamSecretNumber null.String `db:"exam_secret_number"`
	}
)

func (r examRow) toExam() exam.Exam {
	return exam.Exam{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		SchoolID:       r.SchoolID,
		Name:           r.Name,
		AcademicYear:   r.AcademicYear,
		Status:         exam.Status(r.Status),
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func (r studentRow) toStudent() exam.ExamStudent {
	return exam.ExamStudent{
		ExamStudentID:    r.ID,
		ExamID:           r.ExamID,
		ExamClassID:      r.ExamClassID,
		StudentID:        r.StudentID,
		StudentCode:      r.StudentCode,
		FullName:         r.FullName,
		FatherName:       r.FatherName,
		ClassName:        r.ClassName,
		Section:          r.Section,
		Province:         r.Province,
		ExamRollNumber:   r.ExamRollNumber,
		ExamSecretNumber: r.ExamSecretNumber,
	}
}

// numberColumn maps a kind to its column; never build it from user input.
func numberColumn(kind exam.NumberKind) string {
	if kind == exam.KindSecret {
		return "exam_secret_number"
	}
	return "exam_roll_number"
}

const selectStudents = `
SELECT s.id, s.exam_id, s.exam_class_id, s.student_id, s.student_code, s.full_name, s.father_name,
       c.class_name, c.section, s.province, s.exam_roll_number, s.exam_secret_number
FROM exam_students s
JOIN exam_classes c ON c.id = s.exam_class_id
WHERE s.exam_id = ? AND s.organization_id = ? AND s.school_id = ?`

type examRepository struct {
	db   *sqlx.DB
	ext  sqlx.ExtContext // db, or the transaction the repository is bound to
	inTx bool
}

var _ exam.Repository = (*examRepository)(nil) // interface compliance check

func NewExamRepository(db *sql.DB) *examRepository {
	xdb := sqlx.NewDb(db, "postgres")
	return &examRepository{db: xdb, ext: xdb}
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err error, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (repo *examRepository) RunInTx(ctx context.Context, fn func(repo exam.Repository) error) error {
	if repo.inTx {
		return fn(repo)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(&examRepository{db: repo.db, ext: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			// numbers may be half written
			return core.NewShutdownError(fmt.Sprintf("rolling back transaction: %v (after: %v)", rbErr, err))
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		// deferred unique constraints are checked here
		if database.IsUniqueViolation(err) {
			return exam.ErrNumberTaken
		}
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

func (repo *examRepository) GetExam(ctx context.Context, tenant exam.Tenant, examID string) (exam.Exam, error) {
	if !validID(examID) {
		return exam.Exam{}, exam.ErrNotFound
	}
	var row examRow
	q := repo.ext.Rebind(`
		SELECT id, organization_id, school_id, name, academic_year, status, created_at
		FROM exams
		WHERE id = ? AND organization_id = ? AND school_id = ?`)
	if err := sqlx.GetContext(ctx, repo.ext, &row, q, examID, tenant.OrganizationID, tenant.SchoolID); err != nil {
		return exam.Exam{}, trapNoRowsErr(err, exam.ErrNotFound, "getting exam")
	}
	return row.toExam(), nil
}

func (repo *examRepository) QueryExamClasses(ctx context.Context, tenant exam.Tenant, examID string) ([]exam.ExamClass, error) {
	if !validID(examID) {
		return nil, nil
	}
	var rows []classRow
	q := repo.ext.Rebind(`
		SELECT id, exam_id, class_name, section
		FROM exam_classes
		WHERE exam_id = ? AND organization_id = ? AND school_id = ?
		ORDER BY class_name, section NULLS FIRST`)
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, q, examID, tenant.OrganizationID, tenant.SchoolID); err != nil {
		return nil, errors.Wrap(err, "querying exam classes")
	}
	classes := make([]exam.ExamClass, 0, len(rows))
	for _, r := range rows {
		classes = append(classes, exam.ExamClass{ID: r.ID, ExamID: r.ExamID, ClassName: r.ClassName, Section: r.Section})
	}
	return classes, nil
}

func (repo *examRepository) QueryStudents(ctx context.Context, tenant exam.Tenant, filter exam.StudentFilter) ([]exam.ExamStudent, error) {
	if !validID(filter.ExamID) || (filter.ExamClassID != "" && !validID(filter.ExamClassID)) {
		return []exam.ExamStudent{}, nil
	}

	var sb strings.Builder
	sb.WriteString(selectStudents)
	args := []interface{}{filter.ExamID, tenant.OrganizationID, tenant.SchoolID}
	if filter.ExamClassID != "" {
		sb.WriteString(" AND s.exam_class_id = ?")
		args = append(args, filter.ExamClassID)
	}
	if filter.SecretNumber != "" {
		sb.WriteString(" AND s.exam_secret_number = ?")
		args = append(args, filter.SecretNumber)
	}
	sb.WriteString(" ORDER BY c.class_name, s.full_name, s.id")
	if filter.ForUpdate {
		sb.WriteString(" FOR UPDATE OF s")
	}

	var rows []studentRow
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, repo.ext.Rebind(sb.String()), args...); err != nil {
		return nil, errors.Wrap(err, "querying exam students")
	}
	students := make([]exam.ExamStudent, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.toStudent())
	}
	return students, nil
}

func (repo *examRepository) SetNumbers(ctx context.Context, tenant exam.Tenant, kind exam.NumberKind, examID string, changes map[string]null.String, updatedAt time.Time) error {
	if !repo.inTx {
		return repo.RunInTx(ctx, func(r exam.Repository) error {
			return r.SetNumbers(ctx, tenant, kind, examID, changes, updatedAt)
		})
	}

	q := repo.ext.Rebind(`UPDATE exam_students SET ` + numberColumn(kind) + ` = ?, updated_at = ?
		WHERE id = ? AND exam_id = ? AND organization_id = ? AND school_id = ?`)
	for id, n := range changes {
		if !validID(id) {
			return exam.ErrStudentNotFound
		}
		res, err := repo.ext.ExecContext(ctx, q, n, updatedAt.UTC(), id, examID, tenant.OrganizationID, tenant.SchoolID)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return exam.ErrNumberTaken
			}
			return errors.Wrap(err, "updating exam student number")
		}
		if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
			return exam.ErrStudentNotFound
		}
	}
	return nil
}

func (repo *examRepository) CreateActivity(ctx context.Context, entry exam.ActivityEntry) error {
	props, err := json.Marshal(entry.Properties)
	if err != nil {
		return errors.Wrap(err, "encoding activity properties")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	q := repo.ext.Rebind(`
		INSERT INTO activity_logs (id, organization_id, school_id, actor_id, subject_id, event, description, properties, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = repo.ext.ExecContext(ctx, q,
		entry.ID,
		entry.Tenant.OrganizationID,
		entry.Tenant.SchoolID,
		null.NewString(entry.Tenant.ActorID, entry.Tenant.ActorID != ""),
		entry.SubjectID,
		entry.Event,
		entry.Description,
		types.JSONText(props),
		entry.CreatedAt.UTC(),
	)
	return errors.Wrap(err, "inserting activity log")
}
