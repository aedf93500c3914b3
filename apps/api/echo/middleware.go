package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// permissionMiddleware lets the request through when the token grants every one of perms.
func permissionMiddleware(perms ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.OrganizationID == "" || claims.SchoolID == "" {
				return errHttpForbidden
			}
			for _, p := range perms {
				if !claims.HasPermission(p) {
					return errHttpForbidden
				}
			}
			return next(ctx)
		}
	}
}
