// Package recurrence compiles a weekly on/off window into trigger
// expressions understood by the trigger authority.
package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// Window is a recurring weekly on/off declaration.
type Window struct {
	Weekdays  []domain.Weekday
	StartTime domain.TimeOfDay
	EndTime   *domain.TimeOfDay
}

// Expressions holds the compiled trigger expressions. Off is empty when
// the window has no end time.
type Expressions struct {
	On  string
	Off string
}

// HasOff reports whether an off expression was produced.
func (e Expressions) HasOff() bool {
	return e.Off != ""
}

// Compile converts w into one or two cron(...) expressions that fire on
// exactly the listed weekdays at the given minute and hour, every week.
//
// An end time earlier in the day than the start time is compiled as-is:
// the off trigger fires at that time on the listed weekdays.
func Compile(w Window) (Expressions, error) {
	days, err := domain.NormalizeWeekdays(w.Weekdays)
	if err != nil {
		return Expressions{}, err
	}
	if err := w.StartTime.Validate(); err != nil {
		return Expressions{}, fmt.Errorf("start time: %w", err)
	}

	tokens := make([]string, len(days))
	for i, d := range days {
		tokens[i] = d.Token()
	}
	list := strings.Join(tokens, ",")

	out := Expressions{On: cronExpr(w.StartTime, list)}
	if w.EndTime != nil {
		if err := w.EndTime.Validate(); err != nil {
			return Expressions{}, fmt.Errorf("end time: %w", err)
		}
		out.Off = cronExpr(*w.EndTime, list)
	}
	return out, nil
}

// At returns a one-shot at(...) expression for t's wall-clock time in
// t's location.
func At(t time.Time) string {
	return "at(" + t.Format(domain.AtLayout) + ")"
}

func cronExpr(t domain.TimeOfDay, weekdays string) string {
	return fmt.Sprintf("cron(%d %d ? * %s *)", t.Minute, t.Hour, weekdays)
}
