package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/nambari/core/exam"
	"github.com/trezcool/nambari/core/numbering"
)

type previewOptions struct {
	filter     numbering.Filter
	confirm    bool
	yes        bool
	limit      int
	showSecret bool
}

func orDash(s null.String) string {
	if !s.Valid {
		return "-"
	}
	return s.String
}

// MaskSecret hides a secret number for display: first and last characters with stars in between,
// "**" when it has two characters or fewer. show reveals it.
func MaskSecret(s null.String, show bool) string {
	if !s.Valid || show {
		return orDash(s)
	}
	r := []rune(s.String)
	if len(r) <= 2 {
		return "**"
	}
	return string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
}

func displayNumber(kind exam.NumberKind, n null.String, showSecret bool) string {
	if kind == exam.KindSecret {
		return MaskSecret(n, showSecret)
	}
	return orDash(n)
}

func (cli *commandLine) table() *tabwriter.Writer {
	return tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
}

func (cli *commandLine) classes(ctx context.Context, examID string) error {
	classes, err := cli.gw.ListExamClasses(ctx, examID)
	if err != nil {
		return err
	}
	w := cli.table()
	fmt.Fprintln(w, "ID\tCLASS\tSECTION")
	for _, c := range classes {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.ClassName, orDash(c.Section))
	}
	return w.Flush()
}

func (cli *commandLine) list(ctx context.Context, examID, classID string, showSecret bool) error {
	list, err := cli.gw.ListStudents(ctx, examID, classID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s (%s)\n", list.Exam.Name, list.Exam.Status)
	w := cli.table()
	fmt.Fprintln(w, "ID\tNAME\tCLASS\tROLL\tSECRET")
	for _, s := range list.Students {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ExamStudentID, s.FullName, s.ClassName, orDash(s.ExamRollNumber), MaskSecret(s.ExamSecretNumber, showSecret))
	}
	if err = w.Flush(); err != nil {
		return err
	}
	sum := list.Summary
	fmt.Fprintf(cli.out, "%d student(s): %d without roll number, %d without secret number\n",
		sum.Total, sum.MissingRollNumber, sum.MissingSecretNumber)
	return nil
}

func (cli *commandLine) printPreview(resp exam.PreviewResponse, visible []exam.PreviewItem, showSecret bool) error {
	w := cli.table()
	fmt.Fprintln(w, "STUDENT\tCLASS\tCURRENT\tNEW\t")
	collisions := 0
	for _, it := range resp.Items {
		if it.HasCollision {
			collisions++
		}
	}
	for _, it := range visible {
		var notes []string
		if it.WillOverride {
			notes = append(notes, "replaces")
		}
		if it.HasCollision {
			notes = append(notes, "collision")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", it.StudentName, it.ClassName,
			displayNumber(it.Kind, it.Current, showSecret), displayNumber(it.Kind, null.StringFrom(it.New), showSecret),
			strings.Join(notes, ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if n := resp.Total - len(visible); n > 0 {
		fmt.Fprintf(cli.out, "... %d more not shown\n", n)
	}
	fmt.Fprintf(cli.out, "%d student(s), %d existing number(s) replaced", resp.Total, resp.WillOverrideCount)
	if collisions > 0 {
		fmt.Fprintf(cli.out, ", %d collision(s)", collisions)
	}
	fmt.Fprintln(cli.out)
	return nil
}

func (cli *commandLine) ask(prompt string) string {
	fmt.Fprint(cli.out, prompt)
	line, _ := cli.in.ReadString('\n')
	return strings.TrimSpace(line)
}

// acknowledger accepts overrides when yes is set, otherwise asks on a terminal and refuses elsewhere.
func (cli *commandLine) acknowledger(yes bool) numbering.Acknowledger {
	return numbering.AcknowledgerFunc(func(_ context.Context, kind exam.NumberKind, count int) bool {
		if yes {
			return true
		}
		if !cli.isTerminal() {
			return false
		}
		answer := cli.ask(fmt.Sprintf("This replaces %d existing %s(s). Type yes to continue: ", count, kind.Label()))
		return answer == "yes"
	})
}

func (cli *commandLine) preview(ctx context.Context, kind exam.NumberKind, examID string, opts previewOptions) error {
	ctrl := numbering.NewController(cli.gw, kind, examID, numbering.Options{DisplayLimit: opts.limit})
	defer ctrl.Close()

	if err := ctrl.Load(ctx); err != nil {
		return err
	}
	resp, err := ctrl.Preview(ctx, opts.filter)
	if err != nil {
		return err
	}
	if err = cli.printPreview(resp, ctrl.VisibleItems(), opts.showSecret); err != nil {
		return err
	}

	if !opts.confirm {
		if !cli.isTerminal() {
			return nil
		}
		if a := strings.ToLower(cli.ask("Commit this preview? [y/N] ")); a != "y" && a != "yes" {
			ctrl.Cancel()
			fmt.Fprintln(cli.out, "discarded")
			return nil
		}
	}

	res, err := ctrl.Confirm(ctx, cli.acknowledger(opts.yes))
	switch {
	case err == numbering.ErrNotAcknowledged:
		if !cli.isTerminal() {
			return fmt.Errorf("%d existing %s(s) would be replaced, rerun with -yes to accept", resp.WillOverrideCount, kind.Label())
		}
		fmt.Fprintln(cli.out, "discarded")
		return nil
	case err != nil:
		for _, ie := range res.Errors {
			fmt.Fprintf(cli.out, "  %s: %s\n", ie.ExamStudentID, ie.Error)
		}
		return err
	}
	fmt.Fprintf(cli.out, "%d %s(s) assigned\n", res.Updated, kind.Label())
	return nil
}

func (cli *commandLine) set(ctx context.Context, kind exam.NumberKind, examID, studentID, value string) error {
	ctrl := numbering.NewController(cli.gw, kind, examID, numbering.Options{})
	defer ctrl.Close()

	if err := ctrl.StartEdit(studentID); err != nil {
		return err
	}
	if err := ctrl.SetEditValue(value); err != nil {
		return err
	}
	student, err := ctrl.SaveEdit(ctx)
	if err != nil {
		return err
	}
	if n := student.Number(kind); n.Valid {
		fmt.Fprintf(cli.out, "%s: %s set to %s\n", student.FullName, kind.Label(), n.String)
	} else {
		fmt.Fprintf(cli.out, "%s: %s cleared\n", student.FullName, kind.Label())
	}
	return nil
}

func (cli *commandLine) lookup(ctx context.Context, examID, secret string, showSecret bool) error {
	ctrl := numbering.NewController(cli.gw, exam.KindSecret, examID, numbering.Options{})
	defer ctrl.Close()

	res, err := ctrl.Lookup(ctx, secret)
	if err != nil {
		return err
	}
	if !res.Found || res.Student == nil {
		fmt.Fprintf(cli.out, "no student holds secret number %s\n", strings.TrimSpace(secret))
		return nil
	}
	s := res.Student
	fmt.Fprintf(cli.out, "%s (%s), roll number %s, secret number %s\n",
		s.FullName, s.ClassName, orDash(s.ExamRollNumber), MaskSecret(s.ExamSecretNumber, showSecret))
	return nil
}
