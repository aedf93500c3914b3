package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/trezcool/nambari/core"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf   *core.Config
	out    io.Writer
	openDB func() (*sql.DB, error)
	db     *sql.DB
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                              - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  seed -file FIXTURES.json                            - insert exams, classes and enrolled students")
	fmt.Fprintln(cli.out, "  token -sub ID -org ID -school ID [-perm PERM ...]  - print a signed API token")
}

// database opens the database on first use.
func (cli *commandLine) database() (*sql.DB, error) {
	if cli.db == nil {
		db, err := cli.openDB()
		if err != nil {
			return nil, err
		}
		cli.db = db
	}
	return cli.db, nil
}

func (cli *commandLine) close() error {
	if cli.db == nil {
		return nil
	}
	return cli.db.Close()
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	seedCmd := flag.NewFlagSet("seed", flag.ContinueOnError)
	seedCmd.SetOutput(cli.out)
	seedFile := seedCmd.String("file", "", "JSON file holding the exams to insert.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenCmd.SetOutput(cli.out)
	tokenSub := tokenCmd.String("sub", "", "The subject (user id) of the token.")
	tokenName := tokenCmd.String("name", "", "The display name of the subject.")
	tokenOrg := tokenCmd.String("org", "", "The organization id.")
	tokenSchool := tokenCmd.String("school", "", "The school id.")
	var tokenPerms permList
	tokenCmd.Var(&tokenPerms, "perm", "A granted permission. Repeat or comma separate; \"*\" grants all.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "seed":
		if err := seedCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *seedFile == "" {
			seedCmd.Usage()
			return errHelp
		}
		return cli.seed(*seedFile)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tokenSub == "" || *tokenOrg == "" || *tokenSchool == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenSub, *tokenName, *tokenOrg, *tokenSchool, tokenPerms)
	default:
		cli.printUsage()
		return errHelp
	}
}

// permList collects repeated or comma separated -perm flags.
type permList []string

func (p *permList) String() string {
	return strings.Join(*p, ",")
}

func (p *permList) Set(v string) error {
	for _, perm := range strings.Split(v, ",") {
		if perm = core.CleanString(perm); perm != "" {
			*p = append(*p, perm)
		}
	}
	return nil
}
