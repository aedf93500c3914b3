package exam

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nambari/core"
)

// NumberKind tells which of the two per-exam identifiers is being handled.
type NumberKind string

const (
	KindRoll   NumberKind = "roll"
	KindSecret NumberKind = "secret"
)

var errUnknownKind = errors.New("unknown number kind")

func ParseKind(s string) (NumberKind, error) {
	switch k := NumberKind(core.CleanString(s, true /* lower */)); k {
	case KindRoll, KindSecret:
		return k, nil
	}
	return "", errors.Wrap(errUnknownKind, s)
}

// Label is the human readable name, eg. "roll number".
func (k NumberKind) Label() string { return string(k) + " number" }

// AssignPermission is required to preview, confirm or edit numbers of this kind.
func (k NumberKind) AssignPermission() string { return "exams." + string(k) + "_numbers.assign" }

// Scope of an assignment batch.
type Scope string

const (
	ScopeExam  Scope = "exam"
	ScopeClass Scope = "class"
)

// Status of an Exam.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusArchived   Status = "archived"
)

// Locked reports whether the exam configuration (numbers included) is frozen.
func (s Status) Locked() bool { return s == StatusCompleted || s == StatusArchived }

// Tenant scopes every read and write to one school of one organization.
type Tenant struct {
	OrganizationID string
	SchoolID       string
	ActorID        string
	ActorName      string
}

type Exam struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	SchoolID       string    `json:"school_id"`
	Name           string    `json:"name"`
	AcademicYear   string    `json:"academic_year"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func (e Exam) Ref() ExamRef {
	return ExamRef{ID: e.ID, Name: e.Name, Status: e.Status, AcademicYear: e.AcademicYear}
}

type ExamRef struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Status       Status `json:"status,omitempty"`
	AcademicYear string `json:"academic_year,omitempty"`
}

type ExamClass struct {
	ID        string      `json:"id"`
	ExamID    string      `json:"exam_id"`
	ClassName string      `json:"class_name"`
	Section   null.String `json:"section"`
}

// SortClasses orders classes by name then section.
func SortClasses(classes []ExamClass) {
	sort.SliceStable(classes, func(i, j int) bool {
		if classes[i].ClassName != classes[j].ClassName {
			return classes[i].ClassName < classes[j].ClassName
		}
		return classes[i].Section.String < classes[j].Section.String
	})
}

// ExamStudent is one enrollment of a student in an exam.
type ExamStudent struct {
	ExamStudentID    string      `json:"exam_student_id"`
	ExamID           string      `json:"-"`
	ExamClassID      string      `json:"exam_class_id"`
	StudentID        null.String `json:"student_id"`
	StudentCode      null.String `json:"student_code"`
	FullName         string      `json:"full_name"`
	FatherName       null.String `json:"father_name"`
	ClassName        string      `json:"class_name"`
	Section          null.String `json:"section"`
	Province         null.String `json:"province"`
	ExamRollNumber   null.String `json:"exam_roll_number"`
	ExamSecretNumber null.String `json:"exam_secret_number"`
}

func (s ExamStudent) Number(kind NumberKind) null.String {
	if kind == KindSecret {
		return s.ExamSecretNumber
	}
	return s.ExamRollNumber
}

func (s *ExamStudent) SetNumber(kind NumberKind, n null.String) {
	if kind == KindSecret {
		s.ExamSecretNumber = n
	} else {
		s.ExamRollNumber = n
	}
}

// SortStudents orders students by class name, then full name (then ID, for a total order).
func SortStudents(students []ExamStudent) {
	sort.SliceStable(students, func(i, j int) bool {
		a, b := students[i], students[j]
		if a.ClassName != b.ClassName {
			return a.ClassName < b.ClassName
		}
		if a.FullName != b.FullName {
			return a.FullName < b.FullName
		}
		return a.ExamStudentID < b.ExamStudentID
	})
}

// SortByNumber orders students by their number of the given kind; numeric values compare as integers.
func SortByNumber(kind NumberKind, students []ExamStudent) {
	sort.SliceStable(students, func(i, j int) bool {
		return lessNumber(students[i].Number(kind).String, students[j].Number(kind).String)
	})
}

func lessNumber(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai < bi
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	}
	return a < b
}

type Summary struct {
	Total               int `json:"total"`
	WithRollNumber      int `json:"with_roll_number"`
	WithSecretNumber    int `json:"with_secret_number"`
	MissingRollNumber   int `json:"missing_roll_number"`
	MissingSecretNumber int `json:"missing_secret_number"`
}

func Summarize(students []ExamStudent) Summary {
	sum := Summary{Total: len(students)}
	for _, s := range students {
		if s.ExamRollNumber.Valid {
			sum.WithRollNumber++
		} else {
			sum.MissingRollNumber++
		}
		if s.ExamSecretNumber.Valid {
			sum.WithSecretNumber++
		} else {
			sum.MissingSecretNumber++
		}
	}
	return sum
}

type StudentList struct {
	Exam     ExamRef       `json:"exam"`
	Students []ExamStudent `json:"students"`
	Summary  Summary       `json:"summary"`
}

// Find returns the enrollment with the given ID.
func (l StudentList) Find(examStudentID string) (ExamStudent, bool) {
	for _, s := range l.Students {
		if s.ExamStudentID == examStudentID {
			return s, true
		}
	}
	return ExamStudent{}, false
}

// AssignmentRequest describes one preview/commit cycle.
type AssignmentRequest struct {
	ExamID           string `json:"-"`
	ExamClassID      string `json:"exam_class_id,omitempty" validate:"omitempty,uuid"`
	StartFrom        string `json:"start_from" validate:"required,max=50"`
	Scope            Scope  `json:"scope" validate:"required,oneof=exam class"`
	OverrideExisting bool   `json:"override_existing"`
}

func (r *AssignmentRequest) Clean() {
	r.ExamClassID = core.CleanString(r.ExamClassID)
	r.StartFrom = core.CleanString(r.StartFrom)
	r.Scope = Scope(core.CleanString(string(r.Scope), true /* lower */))
	if r.Scope != ScopeClass {
		r.ExamClassID = ""
	}
}

// PreviewItem is a proposed number for one ExamStudent.
// On the wire the number fields are named after the Kind (current_roll_number, new_secret_number, ...).
type PreviewItem struct {
	Kind          NumberKind
	ExamStudentID string
	StudentID     null.String
	StudentName   string
	ClassName     string
	Current       null.String
	New           string
	WillOverride  bool
	HasCollision  bool
}

type (
	rollPreviewItemJSON struct {
		ExamStudentID string      `json:"exam_student_id"`
		StudentID     null.String `json:"student_id"`
		StudentName   string      `json:"student_name"`
		ClassName     string      `json:"class_name"`
		Current       null.String `json:"current_roll_number"`
		New           string      `json:"new_roll_number"`
		WillOverride  bool        `json:"will_override"`
		HasCollision  bool        `json:"has_collision"`
	}

	secretPreviewItemJSON struct {
		ExamStudentID string      `json:"exam_student_id"`
		StudentID     null.String `json:"student_id"`
		StudentName   string      `json:"student_name"`
		ClassName     string      `json:"class_name"`
		Current       null.String `json:"current_secret_number"`
		New           string      `json:"new_secret_number"`
		WillOverride  bool        `json:"will_override"`
		HasCollision  bool        `json:"has_collision"`
	}

	anyPreviewItemJSON struct {
		ExamStudentID string      `json:"exam_student_id"`
		StudentID     null.String `json:"student_id"`
		StudentName   string      `json:"student_name"`
		ClassName     string      `json:"class_name"`
		CurrentRoll   null.String `json:"current_roll_number"`
		NewRoll       *string     `json:"new_roll_number"`
		CurrentSecret null.String `json:"current_secret_number"`
		NewSecret     *string     `json:"new_secret_number"`
		WillOverride  bool        `json:"will_override"`
		HasCollision  bool        `json:"has_collision"`
	}
)

func (it PreviewItem) MarshalJSON() ([]byte, error) {
	if it.Kind == KindSecret {
		return json.Marshal(secretPreviewItemJSON{
			it.ExamStudentID, it.StudentID, it.StudentName, it.ClassName, it.Current, it.New, it.WillOverride, it.HasCollision,
		})
	}
	return json.Marshal(rollPreviewItemJSON{
		it.ExamStudentID, it.StudentID, it.StudentName, it.ClassName, it.Current, it.New, it.WillOverride, it.HasCollision,
	})
}

func (it *PreviewItem) UnmarshalJSON(data []byte) error {
	var raw anyPreviewItemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*it = PreviewItem{
		ExamStudentID: raw.ExamStudentID,
		StudentID:     raw.StudentID,
		StudentName:   raw.StudentName,
		ClassName:     raw.ClassName,
		WillOverride:  raw.WillOverride,
		HasCollision:  raw.HasCollision,
	}
	switch {
	case raw.NewSecret != nil:
		it.Kind, it.Current, it.New = KindSecret, raw.CurrentSecret, *raw.NewSecret
	case raw.NewRoll != nil:
		it.Kind, it.Current, it.New = KindRoll, raw.CurrentRoll, *raw.NewRoll
	default:
		return errors.New("preview item without a new number")
	}
	return nil
}

type PreviewResponse struct {
	Total             int           `json:"total"`
	WillOverrideCount int           `json:"will_override_count"`
	Items             []PreviewItem `json:"items"`
}

// ConfirmItems maps the whole preview to the commit payload.
func (p PreviewResponse) ConfirmItems() []ConfirmItem {
	items := make([]ConfirmItem, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, ConfirmItem{Kind: it.Kind, ExamStudentID: it.ExamStudentID, NewNumber: it.New})
	}
	return items
}

// ConfirmItem is one approved preview entry: {exam_student_id, new_<kind>_number}.
type ConfirmItem struct {
	Kind          NumberKind `json:"-"`
	ExamStudentID string     `json:"exam_student_id" validate:"required,uuid"`
	NewNumber     string     `json:"new_number" validate:"examnumber"`
}

func (it ConfirmItem) MarshalJSON() ([]byte, error) {
	field := "new_" + string(it.kind()) + "_number"
	m := map[string]string{"exam_student_id": it.ExamStudentID}
	m[field] = it.NewNumber
	return json.Marshal(m)
}

func (it *ConfirmItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		ExamStudentID string  `json:"exam_student_id"`
		NewRoll       *string `json:"new_roll_number"`
		NewSecret     *string `json:"new_secret_number"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*it = ConfirmItem{ExamStudentID: raw.ExamStudentID}
	switch {
	case raw.NewRoll != nil:
		it.Kind, it.NewNumber = KindRoll, *raw.NewRoll
	case raw.NewSecret != nil:
		it.Kind, it.NewNumber = KindSecret, *raw.NewSecret
	}
	return nil
}

func (it ConfirmItem) kind() NumberKind {
	if it.Kind == "" {
		return KindRoll
	}
	return it.Kind
}

type ConfirmRequest struct {
	Items []ConfirmItem `json:"items" validate:"required,min=1,dive"`
}

type ItemError struct {
	ExamStudentID string `json:"exam_student_id"`
	Error         string `json:"error"`
}

type ConfirmResult struct {
	Updated int         `json:"updated"`
	Errors  []ItemError `json:"errors"`
}

// NumberUpdate sets (or clears, when Number is null) one student's number.
type NumberUpdate struct {
	Kind          NumberKind
	ExamID        string
	ExamStudentID string
	Number        null.String
}

func (u NumberUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]null.String{"exam_" + string(u.Kind) + "_number": u.Number})
}

// UnmarshalJSON reads the field matching u.Kind, which must be set beforehand.
func (u *NumberUpdate) UnmarshalJSON(data []byte) error {
	var raw map[string]null.String
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.Number = raw["exam_"+string(u.Kind)+"_number"]
	return nil
}

type LookupResult struct {
	Found   bool         `json:"found"`
	Student *ExamStudent `json:"student,omitempty"`
	Exam    *ExamRef     `json:"exam,omitempty"`
}

type StartFrom struct {
	SuggestedStartFrom string `json:"suggested_start_from"`
}

type RollNumberReport struct {
	Exam     ExamRef       `json:"exam"`
	Students []ExamStudent `json:"students"`
	Total    int           `json:"total"`
}

type SlipsReport struct {
	HTML       string `json:"html"`
	TotalSlips int    `json:"total_slips"`
}

type LabelsReport struct {
	HTML        string `json:"html"`
	TotalLabels int    `json:"total_labels"`
}

// ActivityEntry is an audit record of a number change.
type ActivityEntry struct {
	ID          string                 `json:"id"`
	Tenant      Tenant                 `json:"-"`
	SubjectID   string                 `json:"subject_id"`
	Event       string                 `json:"event"`
	Description string                 `json:"description"`
	Properties  map[string]interface{} `json:"properties"`
	CreatedAt   time.Time              `json:"created_at"`
}
