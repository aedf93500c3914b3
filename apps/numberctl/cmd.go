package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/core/exam"
	"github.com/trezcool/nambari/core/numbering"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf       *core.Config
	gw         numbering.Gateway
	in         *bufio.Reader
	out        io.Writer
	isTerminal func() bool
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  classes -exam ID                                        - list the classes of an exam")
	fmt.Fprintln(cli.out, "  list -exam ID [-class ID] [-show-secret]                - list enrolled students and their numbers")
	fmt.Fprintln(cli.out, "  preview -exam ID -kind roll|secret [-scope exam|class] [-class ID]")
	fmt.Fprintln(cli.out, "          [-start N] [-override] [-confirm] [-yes] [-show-secret]")
	fmt.Fprintln(cli.out, "                                                          - preview (and commit) an auto assignment")
	fmt.Fprintln(cli.out, "  set -exam ID -kind roll|secret -student ID -value V     - set a number by hand, blank clears it")
	fmt.Fprintln(cli.out, "  lookup -exam ID -secret S [-show-secret]                - find who holds a secret number")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	fs := flag.NewFlagSet(args[1], flag.ContinueOnError)
	fs.SetOutput(cli.out)
	examID := fs.String("exam", "", "The exam id.")

	switch args[1] {
	case "classes":
		if err := fs.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *examID == "" {
			fs.Usage()
			return errHelp
		}
		return cli.classes(ctx, *examID)

	case "list":
		classID := fs.String("class", "", "Only list the students of this exam class.")
		showSecret := fs.Bool("show-secret", false, "Print secret numbers in clear.")
		if err := fs.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *examID == "" {
			fs.Usage()
			return errHelp
		}
		return cli.list(ctx, *examID, *classID, *showSecret)

	case "preview":
		kind := fs.String("kind", "", "The kind of number: roll or secret.")
		scope := fs.String("scope", string(exam.ScopeExam), "Number the whole exam or one class.")
		classID := fs.String("class", "", "The exam class to number when -scope is class.")
		start := fs.String("start", "", "The first number; defaults to the suggested one.")
		override := fs.Bool("override", false, "Renumber students who already hold a number.")
		confirm := fs.Bool("confirm", false, "Commit the preview without asking.")
		yes := fs.Bool("yes", false, "Accept replacing existing numbers without asking.")
		limit := fs.Int("limit", cli.conf.Numbering.PreviewDisplayLimit, "How many preview rows to print.")
		showSecret := fs.Bool("show-secret", false, "Print secret numbers in clear.")
		if err := fs.Parse(args[2:]); err != nil {
			return errHelp
		}
		k, err := exam.ParseKind(*kind)
		if *examID == "" || err != nil {
			fs.Usage()
			return errHelp
		}
		opts := previewOptions{
			filter: numbering.Filter{
				Scope:            exam.Scope(*scope),
				ExamClassID:      *classID,
				StartFrom:        *start,
				OverrideExisting: *override,
			},
			confirm:    *confirm,
			yes:        *yes,
			limit:      *limit,
			showSecret: *showSecret,
		}
		return cli.preview(ctx, k, *examID, opts)

	case "set":
		kind := fs.String("kind", "", "The kind of number: roll or secret.")
		student := fs.String("student", "", "The exam student id.")
		value := fs.String("value", "", "The new number; blank clears it.")
		if err := fs.Parse(args[2:]); err != nil {
			return errHelp
		}
		k, err := exam.ParseKind(*kind)
		if *examID == "" || *student == "" || err != nil {
			fs.Usage()
			return errHelp
		}
		return cli.set(ctx, k, *examID, *student, *value)

	case "lookup":
		secret := fs.String("secret", "", "The secret number to resolve.")
		showSecret := fs.Bool("show-secret", false, "Print the secret number in clear.")
		if err := fs.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *examID == "" {
			fs.Usage()
			return errHelp
		}
		return cli.lookup(ctx, *examID, *secret, *showSecret)

	default:
		cli.printUsage()
		return errHelp
	}
}
