package exam

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
)

// ParseStart reads the first number of a batch. A numeric value (integer, decimal or exponent form)
// is truncated to an integer, clamped to the int range; anything else starts at 1.
func ParseStart(startFrom string) int {
	s := strings.TrimSpace(startFrom)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	unsigned := strings.TrimLeft(s, "+-")
	if strings.HasPrefix(unsigned, "0x") || strings.HasPrefix(unsigned, "0X") {
		return 1
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 1
	}
	switch {
	case math.IsNaN(f):
		return 1
	case math.IsInf(f, 0) && err == nil: // "inf", "infinity"
		return 1
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(f)
}

// Plan proposes numbers of the given kind for the students in scope.
//
// Students are numbered in class name, full name order with consecutive integers starting at startFrom.
// Without override, students who already hold a number keep it and do not consume a value.
// Collisions are judged against the numbers the whole exam would hold once the batch is applied,
// so `all` must contain every enrollment of the exam (scope included).
func Plan(kind NumberKind, scope, all []ExamStudent, startFrom string, override bool) PreviewResponse {
	ordered := make([]ExamStudent, len(scope))
	copy(ordered, scope)
	SortStudents(ordered)

	next := ParseStart(startFrom)
	items := make([]PreviewItem, 0, len(ordered))
	for _, s := range ordered {
		current := s.Number(kind)
		item := PreviewItem{
			Kind:          kind,
			ExamStudentID: s.ExamStudentID,
			StudentID:     s.StudentID,
			StudentName:   s.FullName,
			ClassName:     s.ClassName,
			Current:       current,
		}
		if current.Valid && !override {
			item.New = current.String
		} else {
			item.New = strconv.Itoa(next)
			next++
		}
		item.WillOverride = current.Valid && current.String != item.New
		items = append(items, item)
	}

	markCollisions(kind, items, all)

	resp := PreviewResponse{Total: len(items), Items: items}
	for _, it := range items {
		if it.WillOverride {
			resp.WillOverrideCount++
		}
	}
	return resp
}

// markCollisions flags items whose new number would be held by more than one student of the exam.
func markCollisions(kind NumberKind, items []PreviewItem, all []ExamStudent) {
	final := FinalNumbers(kind, all, proposals(items))
	counts := make(map[string]int, len(final))
	for _, n := range final {
		counts[n]++
	}
	for i := range items {
		items[i].HasCollision = counts[items[i].New] > 1
	}
}

func proposals(items []PreviewItem) map[string]string {
	m := make(map[string]string, len(items))
	for _, it := range items {
		m[it.ExamStudentID] = it.New
	}
	return m
}

// FinalNumbers returns the numbers every enrollment of the exam would hold once `changes`
// (exam student ID -> new number) are applied. Students without a number are left out.
func FinalNumbers(kind NumberKind, all []ExamStudent, changes map[string]string) map[string]string {
	final := make(map[string]string, len(all))
	seen := make(map[string]bool, len(all))
	for _, s := range all {
		seen[s.ExamStudentID] = true
		if n, ok := changes[s.ExamStudentID]; ok {
			final[s.ExamStudentID] = n
		} else if cur := s.Number(kind); cur.Valid {
			final[s.ExamStudentID] = cur.String
		}
	}
	for id, n := range changes {
		if !seen[id] {
			final[id] = n
		}
	}
	return final
}

// SuggestStart returns the successor of the highest integer number of the given kind, or def if there is none.
func SuggestStart(kind NumberKind, students []ExamStudent, def int) int {
	max, found := 0, false
	for _, s := range students {
		n := s.Number(kind)
		if !n.Valid {
			continue
		}
		if v, err := strconv.Atoi(n.String); err == nil && (!found || v > max) {
			max, found = v, true
		}
	}
	if !found {
		return def
	}
	return max + 1
}

// NumberTaken reports whether another enrollment than examStudentID already holds n.
func NumberTaken(kind NumberKind, students []ExamStudent, examStudentID string, n null.String) bool {
	if !n.Valid {
		return false
	}
	for _, s := range students {
		if s.ExamStudentID != examStudentID && s.Number(kind) == n {
			return true
		}
	}
	return false
}
