// Package signature parses scanner snapshots into signature records.
package signature

import "strconv"

// Record is one row of a scanner snapshot.
// Empty strings mean the column was empty.
type Record struct {
	ID          string `json:"id" yaml:"id"`
	Group       string `json:"group" yaml:"group"`
	SiteType    string `json:"site_type,omitempty" yaml:"site_type,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	ScanPercent *int   `json:"scan_percent,omitempty" yaml:"scan_percent,omitempty"`
}

// Percent returns a pointer to p, for building records.
func Percent(p int) *int {
	return &p
}

// Scan returns the scan percent and whether it is known.
func (r Record) Scan() (int, bool) {
	if r.ScanPercent == nil {
		return 0, false
	}
	return *r.ScanPercent, true
}

// FullyScanned reports whether the scan reached 100%.
func (r Record) FullyScanned() bool {
	p, ok := r.Scan()
	return ok && p >= 100
}

// Resolved reports whether the record identifies its site completely:
// a site type is known and the scan is complete.
func (r Record) Resolved() bool {
	return r.SiteType != "" && r.FullyScanned()
}

// Equal reports whether two records carry the same values.
func (r Record) Equal(o Record) bool {
	return r.ID == o.ID &&
		r.Group == o.Group &&
		r.SiteType == o.SiteType &&
		r.Name == o.Name &&
		equalPercent(r.ScanPercent, o.ScanPercent)
}

// Clone returns a copy that shares no pointers with r.
func (r Record) Clone() Record {
	if r.ScanPercent != nil {
		r.ScanPercent = Percent(*r.ScanPercent)
	}
	return r
}

// ScanString renders the scan percent as the scanner does ("42%"), or "".
func (r Record) ScanString() string {
	p, ok := r.Scan()
	if !ok {
		return ""
	}
	return strconv.Itoa(p) + "%"
}

func equalPercent(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
