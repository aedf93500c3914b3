package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
)

type examApi struct {
	svc exam.Service
}

func registerExamAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc exam.Service) {
	api := examApi{svc: svc}

	eg := g.Group("/exams/:"+examParam, jwt)
	eg.GET("/classes", api.classes, permissionMiddleware(PermExamsRead))
	eg.GET("/students-with-numbers", api.studentsWithNumbers, permissionMiddleware(PermExamsRead))

	for _, kind := range []exam.NumberKind{exam.KindRoll, exam.KindSecret} {
		assign := permissionMiddleware(kind.AssignPermission())
		kg := eg.Group("/" + string(kind) + "-numbers")
		kg.GET("/start-from", api.startFrom(kind), permissionMiddleware(PermExamsRead))
		kg.POST("/preview-auto-assign", api.preview(kind), assign)
		kg.POST("/confirm-auto-assign", api.confirm(kind), assign)
		eg.PATCH("/students/:"+studentParam+"/"+string(kind)+"-number", api.updateNumber(kind), assign)
	}

	eg.GET("/secret-numbers/lookup", api.lookup, permissionMiddleware(PermSecretNumbersRead))

	rg := eg.Group("/reports")
	rg.GET("/roll-numbers", api.rollNumberReport, permissionMiddleware(PermRollNumbersRead))
	rg.GET("/roll-slips", api.rollSlips, permissionMiddleware(PermNumbersPrint))
	rg.GET("/secret-labels", api.secretLabels, permissionMiddleware(PermNumbersPrint))
}

// Handlers

func (api *examApi) classes(ctx echo.Context) error {
	tenant, err := getContextTenant(ctx)
	if err != nil {
		return err
	}
	classes, err := api.svc.ListClasses(ctx.Request().Context(), tenant, examID(ctx))
	if err != nil {
		return errors.Wrap(err, "listing exam classes")
	}
	if classes == nil {
		classes = []exam.ExamClass{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *examApi) studentsWithNumbers(ctx echo.Context) error {
	tenant, err := getContextTenant(ctx)
	if err != nil {
		return err
	}
	var q classQuery
	q.Bind(ctx)

	list, err := api.svc.ListStudents(ctx.Request().Context(), tenant, examID(ctx), q.ExamClassID)
	if err != nil {
		return errors.Wrap(err, "listing exam students")
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *examApi) startFrom(kind exam.NumberKind) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		tenant, err := getContextTenant(ctx)
		if err != nil {
			return err
		}
		start, err := api.svc.SuggestedStart(ctx.Request().Context(), tenant, kind, examID(ctx))
		if err != nil {
			return errors.Wrapf(err, "suggesting %s start", kind.Label())
		}
		return ctx.JSON(http.StatusOK, start)
	}
}

func (api *examApi) preview(kind exam.NumberKind) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		tenant, err := getContextTenant(ctx)
		if err != nil {
			return err
		}
		var data exam.AssignmentRequest
		if err = ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to AssignmentRequest")
		}
		data.Clean()
		data.ExamID = examID(ctx)
		if err = ctx.Validate(data); err != nil {
			return err
		}

		resp, err := api.svc.Preview(ctx.Request().Context(), tenant, kind, data)
		if err != nil {
			return errors.Wrapf(err, "previewing %ss", kind.Label())
		}
		return ctx.JSON(http.StatusOK, resp)
	}
}

func (api *examApi) confirm(kind exam.NumberKind) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		tenant, err := getContextTenant(ctx)
		if err != nil {
			return err
		}
		var data exam.ConfirmRequest
		if err = ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to ConfirmRequest")
		}
		if err = ctx.Validate(data); err != nil {
			return err
		}

		res, err := api.svc.Confirm(ctx.Request().Context(), tenant, kind, examID(ctx), data.Items)
		if err != nil {
			return errors.Wrapf(err, "confirming %ss", kind.Label())
		}
		return ctx.JSON(http.StatusOK, res)
	}
}

func (api *examApi) updateNumber(kind exam.NumberKind) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		tenant, err := getContextTenant(ctx)
		if err != nil {
			return err
		}
		data := exam.NumberUpdate{Kind: kind}
		if err = ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to NumberUpdate")
		}
		data.ExamID = examID(ctx)
		data.ExamStudentID = core.CleanString(ctx.Param(studentParam))

		student, err := api.svc.UpdateNumber(ctx.Request().Context(), tenant, data)
		if err != nil {
			return errors.Wrapf(err, "updating %s", kind.Label())
		}
		return ctx.JSON(http.StatusOK, student)
	}
}

func (api *examApi) lookup(ctx echo.Context) error {
	tenant, err := getContextTenant(ctx)
	if err != nil {
		return err
	}
	var q lookupQuery
	q.Bind(ctx)

	res, err := api.svc.LookupSecret(ctx.Request().Context(), tenant, examID(ctx), q.SecretNumber)
	if err != nil {
		return errors.Wrap(err, "looking up secret number")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *examApi) rollNumberReport(ctx echo.Context) error {
	tenant, err := getContextTenant(ctx)
	if err != nil {
		return err
	}
	var q classQuery
	q.Bind(ctx)

	report, err := api.svc.RollNumberReport(ctx.Request().Context(), tenant, examID(ctx), q.ExamClassID)
	if err != nil {
		return errors.Wrap(err, "building roll number report")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *examApi) rollSlips(ctx echo.Context) error {
	tenant, err := getContextTenant(ctx)
	if err != nil {
		return err
	}
	var q classQuery
	q.Bind(ctx)

	slips, err := api.svc.RollSlips(ctx.Request().Context(), tenant, examID(ctx), q.ExamClassID)
	if err != nil {
		return errors.Wrap(err, "rendering roll slips")
	}
	return ctx.JSON(http.StatusOK, slips)
}

func (api *examApi) secretLabels(ctx echo.Context) error {
	tenant, err := getContextTenant(ctx)
	if err != nil {
		return err
	}
	var q labelsQuery
	q.Bind(ctx)

	labels, err := api.svc.SecretLabels(ctx.Request().Context(), tenant, examID(ctx), q.ExamClassID, q.LabelLayout())
	if err != nil {
		return errors.Wrap(err, "rendering secret labels")
	}
	return ctx.JSON(http.StatusOK, labels)
}
