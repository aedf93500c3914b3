package exam

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nambari/core"
)

var (
	// errors
	ErrNotFound        = errors.New("exam not found")
	ErrStudentNotFound = errors.New("exam student not found")
	ErrClassNotFound   = errors.New("exam class not found")
	ErrExamLocked      = errors.New("exam is completed or archived, numbers can no longer be changed")
	ErrNumberTaken     = errors.New("this number is already assigned to another student in this exam")
	ErrEmptySecret     = errors.New("secret number is required")
)

// activity log events
const (
	EventNumbersAssigned = "exam.%s_numbers.assigned"
	EventNumberUpdated   = "exam.%s_number.updated"
)

// BatchError rejects a whole confirmation; nothing was written.
type BatchError struct {
	Items []ItemError
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d item(s) could not be assigned, nothing was saved", len(e.Items))
}

type (
	// StudentFilter narrows QueryStudents. Empty fields are ignored, ExamID is mandatory.
	StudentFilter struct {
		ExamID       string
		ExamClassID  string
		SecretNumber string
		// ForUpdate locks the returned rows until the surrounding transaction ends.
		ForUpdate bool
	}

	Repository interface {
		GetExam(ctx context.Context, tenant Tenant, examID string) (Exam, error)
		QueryExamClasses(ctx context.Context, tenant Tenant, examID string) ([]ExamClass, error)
		QueryStudents(ctx context.Context, tenant Tenant, filter StudentFilter) ([]ExamStudent, error)
		// SetNumbers writes every change (exam student ID -> number) or none of them.
		SetNumbers(ctx context.Context, tenant Tenant, kind NumberKind, examID string, changes map[string]null.String, updatedAt time.Time) error
		CreateActivity(ctx context.Context, entry ActivityEntry) error
		// RunInTx runs fn against a repository bound to a single transaction.
		// The transaction is committed when fn returns nil, rolled back otherwise.
		RunInTx(ctx context.Context, fn func(repo Repository) error) error
	}

	// ReportRepository serves the read-only printouts.
	ReportRepository interface {
		// QueryNumberedStudents returns the students holding a number of the given kind, ordered by that number.
		QueryNumberedStudents(ctx context.Context, tenant Tenant, kind NumberKind, examID, examClassID string) ([]ExamStudent, error)
	}

	Service interface {
		ListClasses(ctx context.Context, tenant Tenant, examID string) ([]ExamClass, error)
		ListStudents(ctx context.Context, tenant Tenant, examID, examClassID string) (StudentList, error)
		SuggestedStart(ctx context.Context, tenant Tenant, kind NumberKind, examID string) (StartFrom, error)
		Preview(ctx context.Context, tenant Tenant, kind NumberKind, req AssignmentRequest) (PreviewResponse, error)
		Confirm(ctx context.Context, tenant Tenant, kind NumberKind, examID string, items []ConfirmItem) (ConfirmResult, error)
		UpdateNumber(ctx context.Context, tenant Tenant, upd NumberUpdate) (ExamStudent, error)
		LookupSecret(ctx context.Context, tenant Tenant, examID, secret string) (LookupResult, error)

		RollNumberReport(ctx context.Context, tenant Tenant, examID, examClassID string) (RollNumberReport, error)
		RollSlips(ctx context.Context, tenant Tenant, examID, examClassID string) (SlipsReport, error)
		SecretLabels(ctx context.Context, tenant Tenant, examID, examClassID string, layout LabelLayout) (LabelsReport, error)
	}

	service struct {
		repo     Repository
		reports  ReportRepository
		mailSvc  core.EmailService
		logger   core.Logger
		conf     core.NumberingConfig
		notifyTo []mail.Address
	}
)

var nowFunc = time.Now

func NewService(repo Repository, reports ReportRepository, mailSvc core.EmailService, logger core.Logger, conf *core.Config) Service {
	svc := &service{
		repo:    repo,
		reports: reports,
		mailSvc: mailSvc,
		logger:  logger,
		conf:    conf.Numbering,
	}
	if conf.Email.NotifyAddress != "" {
		if addrs, err := mail.ParseAddressList(conf.Email.NotifyAddress); err == nil {
			svc.notifyTo = make([]mail.Address, 0, len(addrs))
			for _, a := range addrs {
				svc.notifyTo = append(svc.notifyTo, *a)
			}
		} else {
			logger.Warn("invalid email.notifyAddress, assignment notices disabled", err)
		}
	}
	return svc
}

func (svc *service) ListClasses(ctx context.Context, tenant Tenant, examID string) ([]ExamClass, error) {
	if _, err := svc.repo.GetExam(ctx, tenant, examID); err != nil {
		return nil, err
	}
	return svc.repo.QueryExamClasses(ctx, tenant, examID)
}

func (svc *service) ListStudents(ctx context.Context, tenant Tenant, examID, examClassID string) (StudentList, error) {
	ex, err := svc.repo.GetExam(ctx, tenant, examID)
	if err != nil {
		return StudentList{}, err
	}
	students, err := svc.repo.QueryStudents(ctx, tenant, StudentFilter{ExamID: examID, ExamClassID: core.CleanString(examClassID)})
	if err != nil {
		return StudentList{}, err
	}
	SortStudents(students)
	return StudentList{Exam: ex.Ref(), Students: students, Summary: Summarize(students)}, nil
}

func (svc *service) SuggestedStart(ctx context.Context, tenant Tenant, kind NumberKind, examID string) (StartFrom, error) {
	if _, err := svc.repo.GetExam(ctx, tenant, examID); err != nil {
		return StartFrom{}, err
	}
	students, err := svc.repo.QueryStudents(ctx, tenant, StudentFilter{ExamID: examID})
	if err != nil {
		return StartFrom{}, err
	}
	def := svc.conf.RollStartDefault
	if kind == KindSecret {
		def = svc.conf.SecretStartDefault
	}
	return StartFrom{SuggestedStartFrom: fmt.Sprint(SuggestStart(kind, students, def))}, nil
}

func (svc *service) Preview(ctx context.Context, tenant Tenant, kind NumberKind, req AssignmentRequest) (PreviewResponse, error) {
	req.Clean()
	if _, err := svc.mutableExam(ctx, svc.repo, tenant, req.ExamID); err != nil {
		return PreviewResponse{}, err
	}
	if err := svc.checkClass(ctx, tenant, req); err != nil {
		return PreviewResponse{}, err
	}

	all, err := svc.repo.QueryStudents(ctx, tenant, StudentFilter{ExamID: req.ExamID})
	if err != nil {
		return PreviewResponse{}, err
	}
	scope := all
	if req.Scope == ScopeClass {
		scope = make([]ExamStudent, 0, len(all))
		for _, s := range all {
			if s.ExamClassID == req.ExamClassID {
				scope = append(scope, s)
			}
		}
	}
	return Plan(kind, scope, all, req.StartFrom, req.OverrideExisting), nil
}

func (svc *service) checkClass(ctx context.Context, tenant Tenant, req AssignmentRequest) error {
	if req.Scope != ScopeClass {
		return nil
	}
	if req.ExamClassID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "exam_class_id", Error: "this field is required"})
	}
	classes, err := svc.repo.QueryExamClasses(ctx, tenant, req.ExamID)
	if err != nil {
		return err
	}
	for _, c := range classes {
		if c.ID == req.ExamClassID {
			return nil
		}
	}
	return core.NewValidationError(ErrClassNotFound, core.FieldError{Field: "exam_class_id", Error: ErrClassNotFound.Error()})
}

func (svc *service) mutableExam(ctx context.Context, repo Repository, tenant Tenant, examID string) (Exam, error) {
	ex, err := repo.GetExam(ctx, tenant, examID)
	if err != nil {
		return Exam{}, err
	}
	if ex.Status.Locked() {
		return Exam{}, ErrExamLocked
	}
	return ex, nil
}

func (svc *service) Confirm(ctx context.Context, tenant Tenant, kind NumberKind, examID string, items []ConfirmItem) (ConfirmResult, error) {
	var (
		ex         Exam
		overridden int
		itemErrs   []ItemError
	)
	now := nowFunc().UTC()

	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		var err error
		if ex, err = svc.mutableExam(ctx, repo, tenant, examID); err != nil {
			return err
		}
		all, err := repo.QueryStudents(ctx, tenant, StudentFilter{ExamID: examID, ForUpdate: true})
		if err != nil {
			return err
		}

		var changes map[string]null.String
		changes, overridden, itemErrs = checkBatch(kind, all, items)
		if len(itemErrs) > 0 {
			return &BatchError{Items: itemErrs}
		}
		if err = repo.SetNumbers(ctx, tenant, kind, examID, changes, now); err != nil {
			return err
		}
		return repo.CreateActivity(ctx, ActivityEntry{
			ID:          uuid.New().String(),
			Tenant:      tenant,
			SubjectID:   examID,
			Event:       fmt.Sprintf(EventNumbersAssigned, kind),
			Description: fmt.Sprintf("Assigned %d %ss", len(items), kind.Label()),
			Properties: map[string]interface{}{
				"exam_id":    examID,
				"kind":       string(kind),
				"updated":    len(items),
				"overridden": overridden,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		if berr, ok := errors.Cause(err).(*BatchError); ok {
			return ConfirmResult{Errors: berr.Items}, err
		}
		return ConfirmResult{}, err
	}

	svc.sendAssignmentNotice(tenant, ex, kind, len(items), overridden)
	return ConfirmResult{Updated: len(items), Errors: []ItemError{}}, nil
}

// checkBatch validates a confirmation against the current enrollments of the exam.
func checkBatch(kind NumberKind, all []ExamStudent, items []ConfirmItem) (map[string]null.String, int, []ItemError) {
	byID := make(map[string]ExamStudent, len(all))
	for _, s := range all {
		byID[s.ExamStudentID] = s
	}

	var (
		errs       []ItemError
		overridden int
	)
	proposed := make(map[string]string, len(items))
	for _, it := range items {
		id := core.CleanString(it.ExamStudentID)
		num := core.CleanString(it.NewNumber)
		s, ok := byID[id]
		switch {
		case !ok:
			errs = append(errs, ItemError{ExamStudentID: id, Error: ErrStudentNotFound.Error()})
			continue
		case it.Kind != "" && it.Kind != kind:
			errs = append(errs, ItemError{ExamStudentID: id, Error: "expected a " + kind.Label()})
			continue
		case !core.ValidNumber(num):
			errs = append(errs, ItemError{ExamStudentID: id, Error: "invalid " + kind.Label()})
			continue
		}
		if _, dup := proposed[id]; dup {
			errs = append(errs, ItemError{ExamStudentID: id, Error: "student appears more than once"})
			continue
		}
		proposed[id] = num
		if cur := s.Number(kind); cur.Valid && cur.String != num {
			overridden++
		}
	}

	final := FinalNumbers(kind, all, proposed)
	holders := make(map[string]int, len(final))
	for _, n := range final {
		holders[n]++
	}
	for _, it := range items {
		id := core.CleanString(it.ExamStudentID)
		if n, ok := proposed[id]; ok && holders[n] > 1 {
			errs = append(errs, ItemError{ExamStudentID: id, Error: fmt.Sprintf("%s %s is already assigned to another student", kind.Label(), n)})
			delete(proposed, id) // report once
		}
	}

	changes := make(map[string]null.String, len(proposed))
	for id, n := range proposed {
		changes[id] = null.StringFrom(n)
	}
	return changes, overridden, errs
}

func (svc *service) sendAssignmentNotice(tenant Tenant, ex Exam, kind NumberKind, updated, overridden int) {
	if svc.mailSvc == nil || len(svc.notifyTo) == 0 {
		return
	}
	actor := tenant.ActorName
	if actor == "" {
		actor = "A staff member"
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           svc.notifyTo,
		Subject:      fmt.Sprintf("%ss assigned: %s", kind.Label(), ex.Name),
		TemplateName: "numbers_assigned",
		TemplateData: map[string]interface{}{
			"Actor":      actor,
			"Updated":    updated,
			"Kind":       string(kind),
			"ExamName":   ex.Name,
			"Overridden": overridden,
		},
	})
}

func (svc *service) UpdateNumber(ctx context.Context, tenant Tenant, upd NumberUpdate) (ExamStudent, error) {
	upd.Number = core.CleanNullString(upd.Number)
	if upd.Number.Valid && !core.ValidNumber(upd.Number.String) {
		field := "exam_" + string(upd.Kind) + "_number"
		return ExamStudent{}, core.NewValidationError(nil, core.FieldError{Field: field, Error: core.NumberText})
	}

	var updated ExamStudent
	now := nowFunc().UTC()
	err := svc.repo.RunInTx(ctx, func(repo Repository) error {
		if _, err := svc.mutableExam(ctx, repo, tenant, upd.ExamID); err != nil {
			return err
		}
		all, err := repo.QueryStudents(ctx, tenant, StudentFilter{ExamID: upd.ExamID, ForUpdate: true})
		if err != nil {
			return err
		}
		var (
			student ExamStudent
			found   bool
		)
		for _, s := range all {
			if s.ExamStudentID == upd.ExamStudentID {
				student, found = s, true
				break
			}
		}
		if !found {
			return ErrStudentNotFound
		}
		if NumberTaken(upd.Kind, all, upd.ExamStudentID, upd.Number) {
			field := "exam_" + string(upd.Kind) + "_number"
			return core.NewValidationError(ErrNumberTaken, core.FieldError{Field: field, Error: ErrNumberTaken.Error()})
		}

		old := student.Number(upd.Kind)
		changes := map[string]null.String{upd.ExamStudentID: upd.Number}
		if err = repo.SetNumbers(ctx, tenant, upd.Kind, upd.ExamID, changes, now); err != nil {
			return err
		}
		student.SetNumber(upd.Kind, upd.Number)
		updated = student

		return repo.CreateActivity(ctx, ActivityEntry{
			ID:          uuid.New().String(),
			Tenant:      tenant,
			SubjectID:   upd.ExamStudentID,
			Event:       fmt.Sprintf(EventNumberUpdated, upd.Kind),
			Description: fmt.Sprintf("Updated %s of %s", upd.Kind.Label(), student.FullName),
			Properties: map[string]interface{}{
				"exam_id": upd.ExamID,
				"kind":    string(upd.Kind),
				"old":     old,
				"new":     upd.Number,
			},
			CreatedAt: now,
		})
	})
	return updated, err
}

func (svc *service) LookupSecret(ctx context.Context, tenant Tenant, examID, secret string) (LookupResult, error) {
	secret = core.CleanString(secret)
	if secret == "" {
		return LookupResult{}, core.NewValidationError(ErrEmptySecret, core.FieldError{Field: "secret_number", Error: ErrEmptySecret.Error()})
	}
	ex, err := svc.repo.GetExam(ctx, tenant, examID)
	if err != nil {
		return LookupResult{}, err
	}
	students, err := svc.repo.QueryStudents(ctx, tenant, StudentFilter{ExamID: examID, SecretNumber: secret})
	if err != nil {
		return LookupResult{}, err
	}
	if len(students) == 0 {
		return LookupResult{Found: false}, nil
	}
	ref := ex.Ref()
	return LookupResult{Found: true, Student: &students[0], Exam: &ref}, nil
}
