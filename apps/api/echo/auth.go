package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
)

// Permissions
const (
	PermExamsRead           = "exams.read"
	PermNumbersPrint        = "exams.numbers.print"
	PermRollNumbersAssign   = "exams.roll_numbers.assign"
	PermRollNumbersRead     = "exams.roll_numbers.read"
	PermSecretNumbersAssign = "exams.secret_numbers.assign"
	PermSecretNumbersRead   = "exams.secret_numbers.read"

	// PermAll grants every permission.
	PermAll = "*"
)

var (
	tokenContextKey = "userToken"
	signingMethod   = middleware.AlgorithmHS256
)

func newJWTConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: signingMethod,
		ContextKey:    tokenContextKey,
		Claims:        new(Claims),
	}
}

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	Name           string   `json:"name,omitempty"`
	Email          string   `json:"email,omitempty"`
	OrganizationID string   `json:"organization_id"`
	SchoolID       string   `json:"school_id"`
	Permissions    []string `json:"permissions,omitempty"`
}

// Identity is who a token is issued to.
type Identity struct {
	Subject        string
	Name           string
	Email          string
	OrganizationID string
	SchoolID       string
	Permissions    []string
}

func NewClaims(conf *core.Config, id Identity) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   id.Subject,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Name:           id.Name,
		Email:          id.Email,
		OrganizationID: id.OrganizationID,
		SchoolID:       id.SchoolID,
		Permissions:    id.Permissions,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(signingMethod), claims)
	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (c Claims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm || p == PermAll {
			return true
		}
	}
	return false
}

func (c Claims) Tenant() exam.Tenant {
	return exam.Tenant{
		OrganizationID: c.OrganizationID,
		SchoolID:       c.SchoolID,
		ActorID:        c.Subject,
		ActorName:      c.Name,
	}
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextTenant(ctx echo.Context) (exam.Tenant, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return exam.Tenant{}, err
	}
	return claims.Tenant(), nil
}
