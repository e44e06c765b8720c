// Package sqlstore implements the event store once for every SQL dialect.
// The public adapters (sqlite, postgres, mysql) supply a Dialect.
package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between SQL engines.
type Dialect struct {
	// Name is used in log lines ("sqlite", "postgres", "mysql").
	Name string

	// DollarPlaceholders rewrites ? to $1, $2, ... before execution.
	DollarPlaceholders bool

	// ForUpdate is appended to the log head read to take a row lock.
	// Empty for engines that lock the whole database on write.
	ForUpdate string

	// UpsertStreamHead is a format string taking the table name.
	// Arguments: stream_key, stream_version, last_global_seq, updated_at.
	UpsertStreamHead string

	// UpsertCheckpoint is a format string taking the table name.
	// Arguments: projection_name, last_global_seq, updated_at.
	UpsertCheckpoint string

	// UpsertSnapshot is a format string taking the table name.
	// Arguments: stream_key, stream_version, payload, updated_at.
	// An existing row is only replaced by a higher stream_version.
	UpsertSnapshot string

	// IsUniqueViolation reports whether err is a unique constraint violation.
	IsUniqueViolation func(err error) bool
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.DollarPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns "?, ?, ?" with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
