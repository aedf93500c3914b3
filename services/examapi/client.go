// Package examapi is the HTTP client of the exam numbering API.
package examapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
	"github.com/trezcool/nambari/core/numbering"
)

// Error is a non 2xx answer of the API.
type Error struct {
	StatusCode int
	Message    string
	// Fields maps invalid request fields to their message.
	Fields map[string]string
	// Items holds the per item rejections of a confirmation.
	Items []exam.ItemError
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for f, m := range e.Fields {
			parts = append(parts, f+": "+m)
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, msg)
}

func parseError(res *rest.Response) *Error {
	apiErr := &Error{StatusCode: res.StatusCode}

	var body map[string]json.RawMessage
	if err := json.Unmarshal([]byte(res.Body), &body); err != nil {
		apiErr.Message = strings.TrimSpace(res.Body)
		return apiErr
	}
	for key, raw := range body {
		switch key {
		case "error":
			_ = json.Unmarshal(raw, &apiErr.Message)
		case "errors":
			_ = json.Unmarshal(raw, &apiErr.Items)
		default:
			var msg string
			if json.Unmarshal(raw, &msg) == nil {
				if apiErr.Fields == nil {
					apiErr.Fields = make(map[string]string)
				}
				apiErr.Fields[key] = msg
			}
		}
	}
	if apiErr.Message == "" && len(apiErr.Fields) > 0 {
		apiErr.Message = "invalid request"
	}
	return apiErr
}

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	apiErr, ok := errors.Cause(err).(*Error)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	rest    *rest.Client
	baseURL string
	token   string
}

var _ numbering.Gateway = (*Client)(nil)

// NewClient returns a client of the API at conf.Client.BaseURL, authenticated with conf.Client.Token.
func NewClient(conf *core.Config) *Client {
	return &Client{
		rest:    &rest.Client{HTTPClient: &http.Client{Timeout: conf.Client.Timeout}},
		baseURL: strings.TrimRight(conf.Client.BaseURL, "/"),
		token:   conf.Client.Token,
	}
}

func (c *Client) examURL(examID string, parts ...string) string {
	u := c.baseURL + "/api/exams/" + url.PathEscape(examID)
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

// do sends the request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method rest.Method, u string, query map[string]string, in, out interface{}) error {
	req := rest.Request{
		Method:      method,
		BaseURL:     u,
		QueryParams: query,
		Headers:     map[string]string{"Accept": "application/json"},
	}
	if c.token != "" {
		req.Headers["Authorization"] = "Bearer " + c.token
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		req.Body = body
		req.Headers["Content-Type"] = "application/json"
	}

	res, err := c.rest.SendWithContext(ctx, req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, u)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return parseError(res)
	}
	if out == nil {
		return nil
	}
	if err = json.Unmarshal([]byte(res.Body), out); err != nil {
		return errors.Wrapf(err, "decoding response of %s %s", method, u)
	}
	return nil
}

func (c *Client) ListExamClasses(ctx context.Context, examID string) ([]exam.ExamClass, error) {
	var classes []exam.ExamClass
	err := c.do(ctx, rest.Get, c.examURL(examID, "classes"), nil, nil, &classes)
	return classes, err
}

func (c *Client) ListStudents(ctx context.Context, examID, examClassID string) (exam.StudentList, error) {
	var query map[string]string
	if examClassID != "" {
		query = map[string]string{"exam_class_id": examClassID}
	}
	var list exam.StudentList
	err := c.do(ctx, rest.Get, c.examURL(examID, "students-with-numbers"), query, nil, &list)
	return list, err
}

func (c *Client) SuggestedStart(ctx context.Context, kind exam.NumberKind, examID string) (string, error) {
	var start exam.StartFrom
	err := c.do(ctx, rest.Get, c.examURL(examID, string(kind)+"-numbers", "start-from"), nil, nil, &start)
	return start.SuggestedStartFrom, err
}

func (c *Client) Preview(ctx context.Context, kind exam.NumberKind, req exam.AssignmentRequest) (exam.PreviewResponse, error) {
	var resp exam.PreviewResponse
	err := c.do(ctx, rest.Post, c.examURL(req.ExamID, string(kind)+"-numbers", "preview-auto-assign"), nil, req, &resp)
	return resp, err
}

// Confirm commits the items. A rejected batch returns its per item errors along with an *Error.
func (c *Client) Confirm(ctx context.Context, kind exam.NumberKind, examID string, items []exam.ConfirmItem) (exam.ConfirmResult, error) {
	sent := make([]exam.ConfirmItem, len(items))
	for i, it := range items {
		if it.Kind == "" {
			it.Kind = kind
		}
		sent[i] = it
	}
	var res exam.ConfirmResult
	err := c.do(ctx, rest.Post, c.examURL(examID, string(kind)+"-numbers", "confirm-auto-assign"), nil,
		exam.ConfirmRequest{Items: sent}, &res)
	if apiErr, ok := err.(*Error); ok {
		res.Errors = apiErr.Items
	}
	return res, err
}

func (c *Client) UpdateNumber(ctx context.Context, upd exam.NumberUpdate) (exam.ExamStudent, error) {
	var student exam.ExamStudent
	u := c.examURL(upd.ExamID, "students", url.PathEscape(upd.ExamStudentID), string(upd.Kind)+"-number")
	err := c.do(ctx, rest.Patch, u, nil, upd, &student)
	return student, err
}

// LookupSecret resolves a secret number. An absent number is Found false;
// an unknown exam is an *Error with status 404.
func (c *Client) LookupSecret(ctx context.Context, examID, secret string) (exam.LookupResult, error) {
	var res exam.LookupResult
	query := map[string]string{"secret_number": secret}
	if err := c.do(ctx, rest.Get, c.examURL(examID, "secret-numbers", "lookup"), query, nil, &res); err != nil {
		return exam.LookupResult{}, err
	}
	return res, nil
}
