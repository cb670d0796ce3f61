package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// Parser evaluates trigger expressions. Three forms are accepted:
//
//	cron(M H DOM MON DOW YEAR)   recurring, "?" allowed in DOM/DOW, YEAR must be "*"
//	at(2006-01-02T15:04:05)      one-shot, wall time in the trigger timezone
//	M H DOM MON DOW              plain five-field cron
type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	expr := strings.TrimSpace(expression)
	switch {
	case strings.HasPrefix(expr, "at(") && strings.HasSuffix(expr, ")"):
		raw := expr[len("at(") : len(expr)-1]
		if strings.Contains(raw, ".") {
			return nil, fmt.Errorf("parse at: fractional seconds not allowed in %q", raw)
		}
		at, err := time.ParseInLocation(domain.AtLayout, raw, loc)
		if err != nil {
			return nil, fmt.Errorf("parse at: %w", err)
		}
		return &oneShot{at: at}, nil

	case strings.HasPrefix(expr, "cron(") && strings.HasSuffix(expr, ")"):
		five, err := fromSixField(expr[len("cron(") : len(expr)-1])
		if err != nil {
			return nil, err
		}
		expr = five
	}

	sched, err := p.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}
	return &schedule{sched: sched, loc: loc}, nil
}

// fromSixField rewrites "M H DOM MON DOW YEAR" as a five-field expression.
// Day-of-week must use names (MON,WED) since numeric days are 1-based in
// this form.
func fromSixField(inner string) (string, error) {
	fields := strings.Fields(inner)
	if len(fields) != 6 {
		return "", fmt.Errorf("parse cron: expected 6 fields, got %d", len(fields))
	}
	if fields[5] != "*" {
		return "", fmt.Errorf("parse cron: year field %q not supported", fields[5])
	}
	if fields[2] == "?" && fields[4] == "?" {
		return "", fmt.Errorf("parse cron: day-of-month and day-of-week cannot both be ?")
	}
	if strings.ContainsAny(fields[4], "0123456789") {
		return "", fmt.Errorf("parse cron: day-of-week %q must use day names", fields[4])
	}
	for _, i := range []int{2, 4} {
		if fields[i] == "?" {
			fields[i] = "*"
		}
	}
	return strings.Join(fields[:5], " "), nil
}

// Schedule yields successive fire times. A zero time means no further
// fire time exists.
type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

type oneShot struct {
	at time.Time
}

func (s *oneShot) Next(after time.Time) time.Time {
	if after.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

// Validate reports whether expression parses in timezone.
func (p *Parser) Validate(expression string, timezone string) error {
	_, err := p.Parse(expression, timezone)
	return err
}
