package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/nambari/apps/api/echo"
	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
	"github.com/trezcool/nambari/services/email"
	"github.com/trezcool/nambari/storage/database/inmem"
	"github.com/trezcool/nambari/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	*Server
	conf    *core.Config
	fix     *testutil.ExamFixture
	mailSvc *emailsvc.ConsoleServiceMock
}

func setup(t *testing.T, status ...exam.Status) testApp {
	conf := core.NewTestConfig()
	conf.Email.NotifyAddress = "exams@school.test"

	// set up DB & repos
	fix := testutil.NewExamFixture(t, nil, status...)
	repo := inmemdb.NewExamRepository(fix.DB)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	examSvc := exam.NewService(repo, repo, mailSvc, core.NopLogger, conf)

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	exam.RegisterValidators(validate)

	// set up server
	srv := NewServer(conf, core.NopLogger, examSvc, validate, translator)
	t.Cleanup(func() { _ = srv.Close() })

	return testApp{Server: srv, conf: conf, fix: fix, mailSvc: mailSvc}
}

// token signs a token for the fixture's tenant holding perms.
func (app testApp) token(t *testing.T, perms ...string) string {
	return app.tokenFor(t, app.fix.Tenant, perms...)
}

func (app testApp) tokenFor(t *testing.T, tenant exam.Tenant, perms ...string) string {
	claims := NewClaims(app.conf, Identity{
		Subject:        tenant.ActorID,
		Name:           tenant.ActorName,
		OrganizationID: tenant.OrganizationID,
		SchoolID:       tenant.SchoolID,
		Permissions:    perms,
	})
	token, err := GenerateToken(app.conf, claims)
	if err != nil {
		t.Fatalf("token() failed: %v", err)
	}
	return token
}

// do serves the request and returns the recorded response.
func (app testApp) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	app.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarshalBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshalBody() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
