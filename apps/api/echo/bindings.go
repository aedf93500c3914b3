package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
)

const (
	examParam    = "exam"
	studentParam = "student"
)

type (
	classQuery struct {
		ExamClassID string
	}

	lookupQuery struct {
		SecretNumber string
	}

	labelsQuery struct {
		ExamClassID string
		Layout      string
	}
)

func (q *classQuery) Bind(ctx echo.Context) {
	q.ExamClassID = core.CleanString(ctx.QueryParam("exam_class_id"))
}

func (q *lookupQuery) Bind(ctx echo.Context) {
	q.SecretNumber = ctx.QueryParam("secret_number")
}

func (q *labelsQuery) Bind(ctx echo.Context) {
	q.ExamClassID = core.CleanString(ctx.QueryParam("exam_class_id"))
	q.Layout = ctx.QueryParam("layout")
}

func (q labelsQuery) LabelLayout() exam.LabelLayout {
	return exam.ParseLayout(q.Layout)
}

func examID(ctx echo.Context) string {
	return core.CleanString(ctx.Param(examParam))
}
