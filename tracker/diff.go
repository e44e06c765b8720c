package tracker

import "github.com/getpup/sigledger/signature"

// Plan is the outcome of comparing a snapshot with a projection.
type Plan struct {
	// Payloads are the events to append, in order.
	Payloads []Payload

	// Suppressed lists resolved ids that were observed again.
	Suppressed []string
}

// Empty reports whether the snapshot produces no events.
func (pl Plan) Empty() bool {
	return len(pl.Payloads) == 0
}

// Diff computes the events that move p to the state observed in records.
// Records are visited in snapshot order, then active ids missing from the
// snapshot fade in id order. p is not modified.
func Diff(p *Projection, records []signature.Record) Plan {
	var plan Plan
	seen := make(map[string]struct{}, len(records))

	for _, rec := range records {
		seen[rec.ID] = struct{}{}
		entry, known := p.Signatures[rec.ID]

		switch {
		case !known || entry.Status == StatusFaded:
			occurrence := 1
			if known {
				occurrence = entry.Occurrence + 1
			}
			plan.Payloads = append(plan.Payloads, Appeared{Signature: rec.Clone(), Occurrence: occurrence})
			if rec.Resolved() {
				plan.Payloads = append(plan.Payloads, Resolved{Signature: rec.Clone()})
			}

		case entry.Status == StatusResolved:
			plan.Suppressed = append(plan.Suppressed, rec.ID)

		default:
			merged, changes := Merge(entry.Record, rec)
			if changes.Empty() {
				continue
			}
			anomalies := scanAnomalies(changes)
			if merged.Resolved() {
				plan.Payloads = append(plan.Payloads, Resolved{Signature: merged, Changes: changes, Anomalies: anomalies})
			} else {
				plan.Payloads = append(plan.Payloads, Updated{ID: rec.ID, Changes: changes, Anomalies: anomalies})
			}
		}
	}

	for _, id := range p.IDs() {
		entry := p.Signatures[id]
		if _, ok := seen[id]; ok || entry.Status != StatusActive {
			continue
		}
		plan.Payloads = append(plan.Payloads, Faded{ID: id, Last: entry.Record.Clone()})
	}
	return plan
}

// Merge overlays the populated columns of incoming on current. Empty
// optional columns keep the known value; group is always populated.
func Merge(current, incoming signature.Record) (signature.Record, Changes) {
	merged := current.Clone()
	var c Changes

	if incoming.Group != "" && incoming.Group != current.Group {
		c.Group = &Change[string]{From: current.Group, To: incoming.Group}
		merged.Group = incoming.Group
	}
	if incoming.SiteType != "" && incoming.SiteType != current.SiteType {
		c.SiteType = &Change[string]{From: current.SiteType, To: incoming.SiteType}
		merged.SiteType = incoming.SiteType
	}
	if incoming.Name != "" && incoming.Name != current.Name {
		c.Name = &Change[string]{From: current.Name, To: incoming.Name}
		merged.Name = incoming.Name
	}
	if incoming.ScanPercent != nil && (current.ScanPercent == nil || *incoming.ScanPercent != *current.ScanPercent) {
		c.ScanPercent = &Change[*int]{From: clonePercent(current.ScanPercent), To: clonePercent(incoming.ScanPercent)}
		merged.ScanPercent = clonePercent(incoming.ScanPercent)
	}
	return merged, c
}

func scanAnomalies(c Changes) []string {
	if c.ScanPercent == nil || c.ScanPercent.From == nil || c.ScanPercent.To == nil {
		return nil
	}
	if *c.ScanPercent.To < *c.ScanPercent.From {
		return []string{AnomalyScanRegressed}
	}
	return nil
}
