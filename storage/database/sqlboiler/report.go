package boiledrepos

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/drivers"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
)

var dialect = drivers.Dialect{
	LQ: '"',
	RQ: '"',

	UseIndexPlaceholders: true,
	UseDefaultKeyword:    true,
}

func newQuery(mods ...qm.QueryMod) *queries.Query {
	q := &queries.Query{}
	queries.SetDialect(q, &dialect)
	qm.Apply(q, mods...)
	return q
}

// numberedStudent is bound from the report query result set.
type numberedStudent struct {
	ID               string      `boil:"id"`
	ExamID           string      `boil:"exam_id"`
	ExamClassID      string      `boil:"exam_class_id"`
	StudentID        null.String `boil:"student_id"`
	StudentCode      null.String `boil:"student_code"`
	FullName         string      `boil:"full_name"`
	FatherName       null.String `boil:"father_name"`
	ClassName        string      `boil:"class_name"`
	Section          null.String `boil:"section"`
	Province         null.String `boil:"province"`
	ExamRollNumber   null.String `boil:"exam_roll_number"`
	ExamSecretNumber null.String `boil:"exam_secret_number"`
}

type reportRepository struct {
	exec core.DBExecutor
}

var _ exam.ReportRepository = (*reportRepository)(nil) // interface compliance check

func NewReportRepository(exec core.DBExecutor) *reportRepository {
	return &reportRepository{exec: exec}
}

func numberColumn(kind exam.NumberKind) string {
	if kind == exam.KindSecret {
		return "s.exam_secret_number"
	}
	return "s.exam_roll_number"
}

// reportMods builds the query for the students holding a number of the given kind.
// Purely numeric numbers sort as integers, before the others.
func reportMods(tenant exam.Tenant, kind exam.NumberKind, examID, examClassID string) []qm.QueryMod {
	col := numberColumn(kind)
	mods := []qm.QueryMod{
		qm.Select(
			"s.id", "s.exam_id", "s.exam_class_id", "s.student_id", "s.student_code", "s.full_name",
			"s.father_name", "c.class_name", "c.section", "s.province", "s.exam_roll_number", "s.exam_secret_number",
		),
		qm.From("exam_students s"),
		qm.InnerJoin("exam_classes c ON c.id = s.exam_class_id"),
		qm.Where("s.exam_id = ?", examID),
		qm.And("s.organization_id = ?", tenant.OrganizationID),
		qm.And("s.school_id = ?", tenant.SchoolID),
		qm.And(col + " IS NOT NULL"),
	}
	if examClassID != "" {
		mods = append(mods, qm.And("s.exam_class_id = ?", examClassID))
	}
	mods = append(mods, qm.OrderBy(
		"CASE WHEN "+col+" ~ '^[0-9]{1,18}$' THEN 0 ELSE 1 END, "+
			"CASE WHEN "+col+" ~ '^[0-9]{1,18}$' THEN "+col+"::bigint END, "+
			col+", s.full_name",
	))
	return mods
}

func (repo reportRepository) QueryNumberedStudents(ctx context.Context, tenant exam.Tenant, kind exam.NumberKind, examID, examClassID string) ([]exam.ExamStudent, error) {
	if _, err := uuid.Parse(examID); err != nil {
		return []exam.ExamStudent{}, nil
	}
	if examClassID != "" {
		if _, err := uuid.Parse(examClassID); err != nil {
			return []exam.ExamStudent{}, nil
		}
	}

	var rows []numberedStudent
	if err := newQuery(reportMods(tenant, kind, examID, examClassID)...).Bind(ctx, repo.exec, &rows); err != nil {
		return nil, errors.Wrap(err, "querying numbered students")
	}
	students := make([]exam.ExamStudent, 0, len(rows))
	for _, r := range rows {
		students = append(students, exam.ExamStudent{
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
		})
	}
	return students, nil
}
