package exam

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"sync"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"

	"github.com/trezcool/nambari/core"
)

// LabelLayout of the secret number labels printout.
type LabelLayout string

const (
	LayoutGrid   LabelLayout = "grid"
	LayoutSingle LabelLayout = "single"
)

func ParseLayout(s string) LabelLayout {
	if LabelLayout(core.CleanString(s, true /* lower */)) == LayoutSingle {
		return LayoutSingle
	}
	return LayoutGrid
}

const qrSize = 96 // px

//go:embed templates
var reportTemplatesFS embed.FS

var (
	reportTemplates *template.Template
	reportTmplErr   error
	reportTmplInit  sync.Once
)

type (
	printable struct {
		Student ExamStudent
		QRCode  template.URL
	}

	slipsPage struct {
		Exam   ExamRef
		Slips  []printable
		QRSize int
	}

	labelsPage struct {
		Exam   ExamRef
		Layout LabelLayout
		Labels []printable
		QRSize int
	}
)

func renderReport(name string, data interface{}) (string, error) {
	reportTmplInit.Do(func() {
		reportTemplates, reportTmplErr = template.New("reports").Option("missingkey=error").
			ParseFS(reportTemplatesFS, "templates/*.gohtml")
	})
	if reportTmplErr != nil {
		return "", errors.Wrap(reportTmplErr, "parsing report templates")
	}
	var buff bytes.Buffer
	if err := reportTemplates.ExecuteTemplate(&buff, name, data); err != nil {
		return "", errors.Wrapf(err, "rendering %s", name)
	}
	return buff.String(), nil
}

// qrDataURL encodes content as an inline PNG QR code.
func qrDataURL(content string) (template.URL, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrSize*2)
	if err != nil {
		return "", errors.Wrap(err, "encoding qr code")
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)), nil
}

func (svc *service) numbered(ctx context.Context, tenant Tenant, kind NumberKind, examID, examClassID string) (Exam, []ExamStudent, error) {
	ex, err := svc.repo.GetExam(ctx, tenant, examID)
	if err != nil {
		return Exam{}, nil, err
	}
	students, err := svc.reports.QueryNumberedStudents(ctx, tenant, kind, examID, core.CleanString(examClassID))
	if err != nil {
		return Exam{}, nil, err
	}
	return ex, students, nil
}

func (svc *service) RollNumberReport(ctx context.Context, tenant Tenant, examID, examClassID string) (RollNumberReport, error) {
	ex, students, err := svc.numbered(ctx, tenant, KindRoll, examID, examClassID)
	if err != nil {
		return RollNumberReport{}, err
	}
	return RollNumberReport{Exam: ex.Ref(), Students: students, Total: len(students)}, nil
}

func (svc *service) RollSlips(ctx context.Context, tenant Tenant, examID, examClassID string) (SlipsReport, error) {
	ex, students, err := svc.numbered(ctx, tenant, KindRoll, examID, examClassID)
	if err != nil {
		return SlipsReport{}, err
	}
	page := slipsPage{Exam: ex.Ref(), Slips: make([]printable, 0, len(students)), QRSize: qrSize}
	for _, s := range students {
		qr, err := qrDataURL(fmt.Sprintf("%s:%s", ex.ID, s.ExamRollNumber.String))
		if err != nil {
			return SlipsReport{}, err
		}
		page.Slips = append(page.Slips, printable{Student: s, QRCode: qr})
	}
	html, err := renderReport("roll_slips.gohtml", page)
	if err != nil {
		return SlipsReport{}, err
	}
	return SlipsReport{HTML: html, TotalSlips: len(students)}, nil
}

func (svc *service) SecretLabels(ctx context.Context, tenant Tenant, examID, examClassID string, layout LabelLayout) (LabelsReport, error) {
	ex, students, err := svc.numbered(ctx, tenant, KindSecret, examID, examClassID)
	if err != nil {
		return LabelsReport{}, err
	}
	page := labelsPage{Exam: ex.Ref(), Layout: layout, Labels: make([]printable, 0, len(students)), QRSize: qrSize}
	for _, s := range students {
		qr, err := qrDataURL(s.ExamSecretNumber.String)
		if err != nil {
			return LabelsReport{}, err
		}
		page.Labels = append(page.Labels, printable{Student: s, QRCode: qr})
	}
	html, err := renderReport("secret_labels.gohtml", page)
	if err != nil {
		return LabelsReport{}, err
	}
	return LabelsReport{HTML: html, TotalLabels: len(students)}, nil
}
