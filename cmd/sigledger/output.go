package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/tracker"
	"github.com/getpup/sigledger/tracker/reconcile"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// render writes v as JSON or YAML, or calls table for the table format.
func render(w io.Writer, format string, v any, table func(tw *tabwriter.Writer)) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}

type eventView struct {
	GlobalSeq     int64     `json:"global_seq" yaml:"global_seq"`
	StreamKey     string    `json:"stream_key" yaml:"stream_key"`
	StreamVersion int64     `json:"stream_version" yaml:"stream_version"`
	EventType     string    `json:"event_type" yaml:"event_type"`
	EventID       string    `json:"event_id" yaml:"event_id"`
	SignatureID   string    `json:"signature_id,omitempty" yaml:"signature_id,omitempty"`
	Source        string    `json:"attributed_source,omitempty" yaml:"attributed_source,omitempty"`
	OccurredAt    time.Time `json:"occurred_at" yaml:"occurred_at"`
	RecordedAt    time.Time `json:"recorded_at" yaml:"recorded_at"`
	Payload       any       `json:"payload" yaml:"payload"`
	SchemaVersion int       `json:"schema_version" yaml:"schema_version"`
}

func newEventView(e es.PersistedEvent) eventView {
	v := eventView{
		GlobalSeq:     e.GlobalSeq,
		StreamKey:     e.StreamKey,
		StreamVersion: e.StreamVersion,
		EventType:     e.EventType,
		EventID:       e.EventID.String(),
		Source:        e.AttributedSource,
		OccurredAt:    e.OccurredAt,
		RecordedAt:    e.RecordedAt,
		SchemaVersion: e.SchemaVersion,
	}
	if p, err := tracker.Decode(e); err == nil {
		v.SignatureID = p.SignatureID()
	}
	// Generic form so YAML keys match the stored JSON.
	var body any
	if err := json.Unmarshal(e.Payload, &body); err == nil {
		v.Payload = body
	}
	return v
}

func renderEvents(w io.Writer, format string, events []es.PersistedEvent) error {
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, newEventView(e))
	}
	return render(w, format, views, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "SEQ\tSTREAM\tVER\tTYPE\tSIGNATURE\tSOURCE\tOCCURRED\tRECORDED")
		for _, v := range views {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
				v.GlobalSeq, v.StreamKey, v.StreamVersion, v.EventType, v.SignatureID, v.Source,
				v.OccurredAt.Format(time.RFC3339), v.RecordedAt.Format(time.RFC3339))
		}
	})
}

type entryView struct {
	ID          string         `json:"id" yaml:"id"`
	Group       string         `json:"group" yaml:"group"`
	SiteType    string         `json:"site_type,omitempty" yaml:"site_type,omitempty"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	ScanPercent *int           `json:"scan_percent,omitempty" yaml:"scan_percent,omitempty"`
	HighestScan *int           `json:"highest_scan_percent,omitempty" yaml:"highest_scan_percent,omitempty"`
	Status      tracker.Status `json:"status" yaml:"status"`
	Occurrence  int            `json:"occurrence" yaml:"occurrence"`
	FirstSeenAt time.Time      `json:"first_seen_at" yaml:"first_seen_at"`
	LastSeenAt  time.Time      `json:"last_seen_at" yaml:"last_seen_at"`
	LastSource  string         `json:"last_source,omitempty" yaml:"last_source,omitempty"`
}

type projectionView struct {
	StreamKey      string      `json:"stream_key" yaml:"stream_key"`
	Version        int64       `json:"version" yaml:"version"`
	LastGlobalSeq  int64       `json:"last_global_seq" yaml:"last_global_seq"`
	LastObservedAt time.Time   `json:"last_observed_at" yaml:"last_observed_at"`
	LastSource     string      `json:"last_source,omitempty" yaml:"last_source,omitempty"`
	Signatures     []entryView `json:"signatures" yaml:"signatures"`
}

func newProjectionView(p *tracker.Projection, status string) projectionView {
	v := projectionView{
		StreamKey:      p.StreamKey,
		Version:        p.Version,
		LastGlobalSeq:  p.LastGlobalSeq,
		LastObservedAt: p.LastObservedAt,
		LastSource:     p.LastSource,
		Signatures:     []entryView{},
	}
	for _, id := range p.IDs() {
		e := p.Signatures[id]
		if status != "" && string(e.Status) != status {
			continue
		}
		v.Signatures = append(v.Signatures, entryView{
			ID:          id,
			Group:       e.Record.Group,
			SiteType:    e.Record.SiteType,
			Name:        e.Record.Name,
			ScanPercent: e.Record.ScanPercent,
			HighestScan: e.HighestScanPercent,
			Status:      e.Status,
			Occurrence:  e.Occurrence,
			FirstSeenAt: e.FirstSeenAt,
			LastSeenAt:  e.LastSeenAt,
			LastSource:  e.LastSource,
		})
	}
	return v
}

func renderProjection(w io.Writer, format string, p *tracker.Projection, status string) error {
	view := newProjectionView(p, status)
	return render(w, format, view, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tGROUP\tSITE TYPE\tNAME\tSCAN\tSTATUS\tOCC\tLAST SEEN")
		for _, e := range view.Signatures {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				e.ID, e.Group, e.SiteType, e.Name, percent(e.ScanPercent), e.Status, e.Occurrence,
				e.LastSeenAt.Format(time.RFC3339))
		}
	})
}

type resultView struct {
	StreamKey    string      `json:"stream_key" yaml:"stream_key"`
	SubmissionID string      `json:"submission_id" yaml:"submission_id"`
	Appended     []eventView `json:"appended" yaml:"appended"`
	Skipped      []string    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Suppressed   []string    `json:"suppressed,omitempty" yaml:"suppressed,omitempty"`
	Attempts     int         `json:"attempts" yaml:"attempts"`
	Version      int64       `json:"version" yaml:"version"`
}

func renderResults(w io.Writer, format string, results []*reconcile.Result) error {
	views := make([]resultView, 0, len(results))
	for _, r := range results {
		v := resultView{
			StreamKey:    r.StreamKey,
			SubmissionID: r.SubmissionID,
			Appended:     []eventView{},
			Suppressed:   r.Suppressed,
			Attempts:     r.Attempts,
		}
		if r.Projection != nil {
			v.Version = r.Projection.Version
		}
		for _, e := range r.Appended {
			v.Appended = append(v.Appended, newEventView(e))
		}
		for _, id := range r.Skipped {
			v.Skipped = append(v.Skipped, id.String())
		}
		views = append(views, v)
	}
	return render(w, format, views, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "STREAM\tSUBMISSION\tAPPENDED\tSKIPPED\tSUPPRESSED\tVERSION")
		for _, v := range views {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
				v.StreamKey, v.SubmissionID, len(v.Appended), len(v.Skipped), len(v.Suppressed), v.Version)
		}
	})
}

func percent(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p) + "%"
}
