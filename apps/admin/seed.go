package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
	"github.com/trezcool/nambari/storage/database"
)

type (
	fixtures struct {
		Exams []examFixture `json:"exams"`
	}

	examFixture struct {
		exam.Exam
		Classes []classFixture `json:"classes"`
	}

	classFixture struct {
		exam.ExamClass
		Students []exam.ExamStudent `json:"students"`
	}
)

// loadFixtures decodes the seed file and fills in missing ids, statuses and dates.
func loadFixtures(r io.Reader) (fixtures, error) {
	var fx fixtures
	if err := json.NewDecoder(r).Decode(&fx); err != nil {
		return fixtures{}, errors.Wrap(err, "decoding fixtures")
	}
	now := time.Now().UTC()

	for i := range fx.Exams {
		ex := &fx.Exams[i]
		ex.Name = core.CleanString(ex.Name)
		if ex.Name == "" || ex.OrganizationID == "" || ex.SchoolID == "" {
			return fixtures{}, fmt.Errorf("exam #%d: name, organization_id and school_id are required", i+1)
		}
		if ex.ID == "" {
			ex.ID = uuid.New().String()
		}
		if ex.Status == "" {
			ex.Status = exam.StatusScheduled
		}
		if ex.CreatedAt.IsZero() {
			ex.CreatedAt = now
		}

		for j := range ex.Classes {
			cls := &ex.Classes[j]
			if cls.ID == "" {
				cls.ID = uuid.New().String()
			}
			cls.ExamID = ex.ID
			for k := range cls.Students {
				s := &cls.Students[k]
				if s.ExamStudentID == "" {
					s.ExamStudentID = uuid.New().String()
				}
				s.ExamID = ex.ID
				s.ExamClassID = cls.ID
				s.ExamRollNumber = core.CleanNullString(s.ExamRollNumber)
				s.ExamSecretNumber = core.CleanNullString(s.ExamSecretNumber)
			}
		}
	}
	return fx, nil
}

func (ex examFixture) split() ([]exam.ExamClass, []exam.ExamStudent) {
	classes := make([]exam.ExamClass, 0, len(ex.Classes))
	var students []exam.ExamStudent
	for _, c := range ex.Classes {
		classes = append(classes, c.ExamClass)
		students = append(students, c.Students...)
	}
	return classes, students
}

// seed inserts every exam of the file in a single transaction.
func (cli *commandLine) seed(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening fixtures")
	}
	defer f.Close()

	fx, err := loadFixtures(f)
	if err != nil {
		return err
	}

	db, err := cli.database()
	if err != nil {
		return err
	}
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var nStudents int
	for _, ex := range fx.Exams {
		classes, students := ex.split()
		if err = database.InsertExam(ctx, tx, ex.Exam, classes, students); err != nil {
			return errors.Wrapf(err, "seeding %q", ex.Name)
		}
		nStudents += len(students)
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing fixtures")
	}

	fmt.Fprintf(cli.out, "seeded %d exam(s), %d student(s)\n", len(fx.Exams), nStudents)
	return nil
}
