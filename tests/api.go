package testutil

import (
	"net/http/httptest"
	"testing"

	echoapi "github.com/trezcool/nambari/apps/api/echo"
	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
	"github.com/trezcool/nambari/storage/database/inmem"
)

// ServeAPI serves the exam API over the fixture's database.
// The returned config's Client points at it with a token of the fixture tenant holding perms (all when none).
func ServeAPI(t *testing.T, fix *ExamFixture, perms ...string) *core.Config {
	t.Helper()
	conf := core.NewTestConfig()
	repo := inmemdb.NewExamRepository(fix.DB)

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	exam.RegisterValidators(validate)
	svc := exam.NewService(repo, repo, nil, core.NopLogger, conf)
	srv := echoapi.NewServer(conf, core.NopLogger, svc, validate, translator)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	if len(perms) == 0 {
		perms = []string{echoapi.PermAll}
	}
	claims := echoapi.NewClaims(conf, echoapi.Identity{
		Subject:        fix.Tenant.ActorID,
		Name:           fix.Tenant.ActorName,
		OrganizationID: fix.Tenant.OrganizationID,
		SchoolID:       fix.Tenant.SchoolID,
		Permissions:    perms,
	})
	token, err := echoapi.GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("ServeAPI() failed: %v", err)
	}

	conf.Client.BaseURL = ts.URL + "/"
	conf.Client.Token = token
	return conf
}
