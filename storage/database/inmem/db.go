package inmemdb

import (
	"sync"

	"github.com/trezcool/nambari/core/exam"
)

type (
	DB struct {
		mutex sync.RWMutex
		exam  *examTables
	}

	examTables struct {
		exams      map[string]exam.Exam
		classes    map[string]exam.ExamClass
		students   map[string]exam.ExamStudent
		activities []exam.ActivityEntry
	}
)

func Open() *DB {
	return &DB{
		exam: &examTables{
			exams:    make(map[string]exam.Exam),
			classes:  make(map[string]exam.ExamClass),
			students: make(map[string]exam.ExamStudent),
		},
	}
}

func (t *examTables) clone() *examTables {
	c := &examTables{
		exams:      make(map[string]exam.Exam, len(t.exams)),
		classes:    make(map[string]exam.ExamClass, len(t.classes)),
		students:   make(map[string]exam.ExamStudent, len(t.students)),
		activities: make([]exam.ActivityEntry, len(t.activities)),
	}
	for k, v := range t.exams {
		c.exams[k] = v
	}
	for k, v := range t.classes {
		c.classes[k] = v
	}
	for k, v := range t.students {
		c.students[k] = v
	}
	copy(c.activities, t.activities)
	return c
}

// checkUnique enforces one holder per (exam, number) for both kinds, like the database constraints.
func (t *examTables) checkUnique() error {
	type key struct {
		examID string
		kind   exam.NumberKind
		number string
	}
	seen := make(map[key]bool, 2*len(t.students))
	for _, s := range t.students {
		for _, kind := range []exam.NumberKind{exam.KindRoll, exam.KindSecret} {
			n := s.Number(kind)
			if !n.Valid {
				continue
			}
			k := key{s.ExamID, kind, n.String}
			if seen[k] {
				return exam.ErrNumberTaken
			}
			seen[k] = true
		}
	}
	return nil
}

// AddExam inserts or replaces an exam.
func (db *DB) AddExam(ex exam.Exam) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.exam.exams[ex.ID] = ex
}

func (db *DB) AddClass(cls exam.ExamClass) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.exam.classes[cls.ID] = cls
}

// AddStudent inserts or replaces an enrollment; class name and section are copied from its class.
func (db *DB) AddStudent(s exam.ExamStudent) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if cls, ok := db.exam.classes[s.ExamClassID]; ok {
		s.ClassName = cls.ClassName
		s.Section = cls.Section
		if s.ExamID == "" {
			s.ExamID = cls.ExamID
		}
	}
	db.exam.students[s.ExamStudentID] = s
}

// Activities returns a copy of the activity log.
func (db *DB) Activities() []exam.ActivityEntry {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	acts := make([]exam.ActivityEntry, len(db.exam.activities))
	copy(acts, db.exam.activities)
	return acts
}
