package exam

import (
	"github.com/go-playground/validator/v10"
)

// RegisterValidators registers the exam struct level validators.
func RegisterValidators(validate *validator.Validate) {
	validate.RegisterStructValidation(assignmentStructValidation, AssignmentRequest{})
	validate.RegisterStructValidation(confirmItemStructValidation, ConfirmItem{})
}

// assignmentStructValidation checks that a class is given when the batch is scoped to a class.
func assignmentStructValidation(sl validator.StructLevel) {
	req := sl.Current().Interface().(AssignmentRequest)
	if req.Scope == ScopeClass && req.ExamClassID == "" {
		sl.ReportError(req.ExamClassID, "exam_class_id", "ExamClassID", "required", "")
	}
}

// confirmItemStructValidation rejects items without a number of any kind.
func confirmItemStructValidation(sl validator.StructLevel) {
	it := sl.Current().Interface().(ConfirmItem)
	if it.Kind == "" {
		sl.ReportError(it.NewNumber, "new_number", "NewNumber", "required", "")
	}
}
