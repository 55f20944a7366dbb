package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// ExportTable writes matching events as an aligned table for compliance
// review.
func (s *Store) ExportTable(w io.Writer, f Filter) error {
	events := s.Recent(f)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTimestamp\tEventType\tSeverity\tActor\tResource\tResult")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Type,
			e.Severity,
			e.Actor,
			e.Resource,
			e.Result,
		)
	}
	return tw.Flush()
}

// ExportJSON writes matching events as a JSON array.
func (s *Store) ExportJSON(w io.Writer, f Filter) error {
	events := s.Recent(f)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}
