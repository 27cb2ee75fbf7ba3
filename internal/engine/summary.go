package engine

import (
	"fmt"
	"strings"
	"time"

	"shiftline/internal/domain"
)

const (
	summaryDateLayout = "02.01.2006 15:04"
	summaryTimeLayout = "15:04"
	// DefaultDescriptionLimit caps each event line of a summary.
	DefaultDescriptionLimit = 100
)

type SummaryOptions struct {
	Location         *time.Location
	DescriptionLimit int
}

// RenderSummary produces the text stored on a handover. Output depends only
// on its arguments.
func RenderSummary(s domain.Shift, g domain.Guard, evts []domain.Event, opts SummaryOptions) string {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	limit := opts.DescriptionLimit
	if limit <= 0 {
		limit = DefaultDescriptionLimit
	}
	if g.ID == 0 {
		g.ID = s.GuardID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Shift #%d summary\n", s.ID)
	fmt.Fprintf(&b, "Guard: %s\n", g.DisplayName())
	fmt.Fprintf(&b, "Started: %s\n", localTime(s.StartTime, loc, summaryDateLayout))
	fmt.Fprintf(&b, "Events: %d\n", len(evts))
	b.WriteString("\n")
	if len(evts) == 0 {
		b.WriteString("No events")
		return b.String()
	}
	b.WriteString("Events:")
	for _, ev := range evts {
		fmt.Fprintf(&b, "\n  • %s - %s: %s",
			localTime(ev.CreatedAt, loc, summaryTimeLayout), ev.Type.Label(), truncateRunes(ev.Description, limit))
	}
	return b.String()
}

func localTime(v string, loc *time.Location, layout string) string {
	t, err := domain.ParseTime(v)
	if err != nil {
		return v
	}
	return t.In(loc).Format(layout)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
