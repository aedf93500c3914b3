package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
	"github.com/trezcool/nambari/storage/database"
)

// PrepareDB opens the (migrated, empty) test database.
// Tests using it are skipped unless TEST_DATABASE_HOST is set.
func PrepareDB(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("TEST_DATABASE_HOST") == "" {
		t.Skip("TEST_DATABASE_HOST is not set")
	}
	t.Setenv("ENV", "TEST")
	conf := core.NewConfig()

	if err := database.CreateIfNotExist(conf); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db, "up"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	ResetDB(t, db)
	return db
}

func ResetDB(t *testing.T, db *sql.DB) {
	t.Helper()
	if err := database.Truncate(context.Background(), db); err != nil {
		t.Fatalf("ResetDB() failed: %v", err)
	}
}

// Persist writes the fixture's exam, classes and students to db.
func (f *ExamFixture) Persist(t *testing.T, db *sql.DB) {
	t.Helper()
	err := database.InsertExam(context.Background(), db, f.Exam, []exam.ExamClass{f.ClassA, f.ClassB}, f.Students)
	if err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}
}
