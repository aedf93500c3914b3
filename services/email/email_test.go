package emailsvc

import (
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/nambari/core"
)

func numbersAssigned(to ...mail.Address) *core.EmailMessage {
	return &core.EmailMessage{
		To:           to,
		Subject:      "roll numbers assigned: Final Exam",
		TemplateName: "numbers_assigned",
		TemplateData: map[string]interface{}{
			"Actor":      "Test Admin",
			"Updated":    3,
			"Kind":       "roll",
			"ExamName":   "Final Exam",
			"Overridden": 1,
		},
	}
}

func TestConsoleServiceMock_SendMessages(t *testing.T) {
	svc := NewConsoleServiceMock(core.NewTestConfig())
	exams := mail.Address{Name: "Exams", Address: "exams@school.test"}

	svc.SendMessages(
		numbersAssigned(exams),
		numbersAssigned(), // no recipient
		&core.EmailMessage{To: []mail.Address{exams}, Subject: "empty"},
		&core.EmailMessage{To: []mail.Address{exams}, TemplateName: "numbers_assigned"}, // missing data
	)

	sent := svc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, []mail.Address{exams}, sent[0].To)
	assert.Contains(t, sent[0].TextContent, `Test Admin assigned 3 roll number(s) for the exam "Final Exam".`)
	assert.Contains(t, sent[0].TextContent, "1 existing number(s) were replaced.")
	assert.NotEmpty(t, sent[0].HTMLContent)
}

func TestConsoleService_BodyStr(t *testing.T) {
	svc := NewConsoleServiceMock(core.NewTestConfig())
	svc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Address: "exams@school.test"}},
		Subject: "hello",
		BodyStr: "plain body",
	})

	sent := svc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "plain body", sent[0].TextContent)
	assert.Empty(t, sent[0].HTMLContent)
}

func Test_sendgridService_prepare(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Email.SendgridAPIKey = "key"
	svc := NewSendgridService(conf, core.NopLogger)

	msg := numbersAssigned(mail.Address{Name: "Exams", Address: "exams@school.test"})
	msg.Cc = []mail.Address{{Address: "head@school.test"}}
	require.NoError(t, msg.Render())

	m := svc.prepare(*msg)
	assert.Equal(t, "noreply@localhost", m.From.Address)
	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	assert.Equal(t, "[Nambari] roll numbers assigned: Final Exam", p.Subject)
	require.Len(t, p.To, 1)
	assert.Equal(t, "exams@school.test", p.To[0].Address)
	require.Len(t, p.CC, 1)
	assert.Equal(t, "head@school.test", p.CC[0].Address)

	require.Len(t, m.Content, 2)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	assert.Equal(t, "text/html", m.Content[1].Type)
}

func Test_joinAddresses(t *testing.T) {
	assert.Equal(t, "", joinAddresses(nil))
	assert.Equal(t,
		`"Exams" <exams@school.test>, <head@school.test>`,
		joinAddresses([]mail.Address{{Name: "Exams", Address: "exams@school.test"}, {Address: "head@school.test"}}),
	)
}
