package main

import (
	"fmt"

	echoapi "github.com/trezcool/nambari/apps/api/echo"
)

func (cli *commandLine) token(sub, name, org, school string, perms []string) error {
	claims := echoapi.NewClaims(cli.conf, echoapi.Identity{
		Subject:        sub,
		Name:           name,
		OrganizationID: org,
		SchoolID:       school,
		Permissions:    perms,
	})
	token, err := echoapi.GenerateToken(cli.conf, claims)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
