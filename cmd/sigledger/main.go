// Command sigledger ingests scanner snapshots into the signature event log
// and inspects the resulting history.
//
// Usage:
//
//	sigledger migrate
//	sigledger ingest system:31000142 snapshot.tsv --source pilot-a
//	sigledger watch ./captures --metrics-addr :9102
//	sigledger current system:31000142 --output json
//	sigledger replay --from 120
//	sigledger audit --since 2026-03-01T00:00:00Z
//	sigledger publish
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, a := newRootCmd()
	err := errors.Join(root.ExecuteContext(ctx), a.close())
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
