package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// renderMarkdown builds the stored body of a cycle report.
func renderMarkdown(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Cycle %s\n\n", r.StartedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- **Trigger:** %s\n", r.Trigger)
	fmt.Fprintf(&b, "- **Outcome:** %s\n", r.Outcome)
	fmt.Fprintf(&b, "- **Duration:** %s\n", r.Duration().Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(&b, "- **Error:** %s\n", r.Error)
	}

	if r.ActiveSources > 0 {
		b.WriteString("\n## Counts\n\n")
		b.WriteString("| Stage | Items |\n|---|---:|\n")
		fmt.Fprintf(&b, "| Active sources | %d |\n", r.ActiveSources)
		fmt.Fprintf(&b, "| Fetched | %d |\n", r.Fetched)
		fmt.Fprintf(&b, "| Exact duplicates | %d |\n", r.ExactDuplicates)
		fmt.Fprintf(&b, "| Fuzzy duplicates | %d |\n", r.FuzzyDuplicates)
		fmt.Fprintf(&b, "| Unique | %d |\n", r.Unique)
		fmt.Fprintf(&b, "| Enriched | %d |\n", r.Enriched)
	}

	if len(r.Steps) > 0 {
		b.WriteString("\n## Steps\n\n")
		for i, s := range r.Steps {
			status := s.Summary
			if s.Err != nil {
				status = "failed: " + s.Err.Error()
			}
			fmt.Fprintf(&b, "%d. `%s` (%s): %s\n", i+1, s.Name, s.Duration.Round(time.Millisecond), status)
		}
	}

	if len(r.SourceCounts) > 0 {
		b.WriteString("\n## Sources\n\n")
		b.WriteString("| Source | Candidates |\n|---|---:|\n")
		ids := make([]string, 0, len(r.SourceCounts))
		for id := range r.SourceCounts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "| %s | %d |\n", id, r.SourceCounts[id])
		}
	}

	if len(r.Failures) > 0 {
		b.WriteString("\n## Failed sources\n\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", f.SourceName, f.SourceID, f.Err)
		}
	}

	return b.String()
}
