package core

import (
	"bytes"
	"embed"
	htmltmpl "html/template"
	"net/mail"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"
)

//go:embed templates/email
var emailTemplatesFS embed.FS

var (
	textTemplates *texttmpl.Template
	htmlTemplates *htmltmpl.Template
	tmplErr       error
	tmplInit      sync.Once
)

type (
	EmailMessage struct {
		To      []mail.Address
		Cc      []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

func parseTemplates() {
	textTemplates, tmplErr = texttmpl.New("email").Option("missingkey=error").
		ParseFS(emailTemplatesFS, "templates/email/*.txt")
	if tmplErr != nil {
		tmplErr = errors.Wrap(tmplErr, "parsing text templates")
		return
	}
	htmlTemplates, tmplErr = htmltmpl.New("email").Option("missingkey=error").
		ParseFS(emailTemplatesFS, "templates/email/*.gohtml")
	if tmplErr != nil {
		tmplErr = errors.Wrap(tmplErr, "parsing html templates")
	}
}

func (m *EmailMessage) Render() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
	}
	if m.TemplateName == "" {
		return nil
	}

	tmplInit.Do(parseTemplates) // only execute once during first request
	if tmplErr != nil {
		return tmplErr
	}

	var buff bytes.Buffer
	if tmpl := textTemplates.Lookup(m.TemplateName + ".txt"); tmpl != nil {
		if err := tmpl.Execute(&buff, m.TemplateData); err != nil {
			return errors.Wrapf(err, "rendering %s.txt", m.TemplateName)
		}
		m.TextContent = buff.String()
	}
	buff.Reset()
	if tmpl := htmlTemplates.Lookup(m.TemplateName + ".gohtml"); tmpl != nil {
		if err := tmpl.Execute(&buff, m.TemplateData); err != nil {
			return errors.Wrapf(err, "rendering %s.gohtml", m.TemplateName)
		}
		m.HTMLContent = buff.String()
	}
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return (m.TextContent != "") || (m.HTMLContent != "") }
