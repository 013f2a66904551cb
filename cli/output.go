package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"competition-engine/services"
)

// render writes v as indented JSON, or calls text for the text format.
func render(w io.Writer, format string, v any, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func list(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}

func printTick(w io.Writer, r *services.TickReport) {
	fmt.Fprintf(w, "tick %s (%s)\n", r.TickID, r.FinishedAt.Sub(r.StartedAt))
	fmt.Fprintf(w, "  ended:     %s\n", list(r.Ended))
	fmt.Fprintf(w, "  finalized: %s\n", list(r.Finalized))
	fmt.Fprintf(w, "  activated: %s\n", list(r.Activated))
	fmt.Fprintf(w, "  missed:    %s\n", list(r.Missed))
	fmt.Fprintf(w, "  skipped:   %s\n", list(r.Skipped))
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s %s [%s] %s\n", e.Step, e.CompetitionID, e.Code, e.Message)
	}
}

func printHealth(w io.Writer, r *services.HealthReport) {
	state := "healthy"
	if !r.Healthy {
		state = "unhealthy"
	}
	fmt.Fprintf(w, "%s at %s\n", state, r.CheckedAt.Format("2006-01-02 15:04:05Z07:00"))
	for _, c := range r.Checks {
		mark := "ok"
		if !c.Healthy {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  %-28s %-4s %s\n", c.Name, mark, c.Detail)
	}
	for _, a := range r.AlertsRaised {
		fmt.Fprintf(w, "  alert raised: %s\n", a)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}

func printFinalization(w io.Writer, r *services.FinalizationResult) {
	if r.AlreadyCompleted {
		fmt.Fprintf(w, "competition %s was already completed\n", r.CompetitionID)
	} else {
		fmt.Fprintf(w, "competition %s finalized (attempt %s)\n", r.CompetitionID, r.AttemptID)
	}
	if s := r.Snapshot; s != nil {
		fmt.Fprintf(w, "  snapshot %s period %s: %d entries, total score %s, prizes %s\n",
			s.ID, s.PeriodKey, s.EntryCount, s.TotalScore.StringFixed(2), s.TotalPrize.StringFixed(2))
	}
	if r.ActivatedCompetitionID != "" {
		fmt.Fprintf(w, "  activated %s\n", r.ActivatedCompetitionID)
	}
	if r.ArchiveURL != "" {
		fmt.Fprintf(w, "  archived to %s\n", r.ArchiveURL)
	}
}
