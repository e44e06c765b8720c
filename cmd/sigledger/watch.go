package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/getpup/sigledger/es"
	"github.com/getpup/sigledger/tracker/reconcile"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		source   string
		existing bool
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Ingest snapshot files written to a directory",
		Long: `Watches a directory and reconciles every snapshot file created or
rewritten in it. The stream key is the file name up to "__", or up to the
extension: J100820__0931.tsv and J100820.tsv both feed stream J100820.
Write files atomically (write, then rename into the directory); a file read
while half written is reconciled as it stands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.openEngine(ctx); err != nil {
				return err
			}
			stop := a.serveMetrics(ctx)
			defer stop()

			w := &watcher{engine: a.engine, logger: a.logger, source: source}
			if existing {
				if err := w.ingestExisting(ctx, args[0]); err != nil {
					return err
				}
			}
			return w.run(ctx, args[0])
		},
	}
	cmd.Flags().StringVar(&source, "source", "watch", "attributed source of ingested snapshots")
	cmd.Flags().BoolVar(&existing, "existing", false, "ingest files already in the directory first")
	return cmd
}

type watcher struct {
	engine *reconcile.Engine
	logger es.Logger
	source string
}

// run blocks until ctx ends. Files that fail to parse are logged and skipped.
func (w *watcher) run(ctx context.Context, dir string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info(ctx, "watching for snapshots", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			w.ingest(ctx, ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(ctx, "watcher error", "error", err)
		}
	}
}

func (w *watcher) ingestExisting(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.ingest(ctx, filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

// ingest submits one file. Repeated write events for unchanged content
// reconcile to no-ops.
func (w *watcher) ingest(ctx context.Context, path string) {
	key := streamKeyFromFile(path)
	if key == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	text, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn(ctx, "snapshot unreadable", "path", path, "error", err)
		return
	}
	snap := reconcile.Snapshot{StreamKey: key, Source: w.source, OccurredAt: info.ModTime()}
	res, err := w.engine.SubmitRaw(ctx, snap, string(text))
	if err != nil {
		w.logger.Warn(ctx, "snapshot rejected", "path", path, "error", err)
		return
	}
	w.logger.Info(ctx, "snapshot ingested", "path", path, "stream_key", key, "appended", len(res.Appended))
}

// streamKeyFromFile derives the stream key from a snapshot file name.
// Hidden and temporary files yield "".
func streamKeyFromFile(path string) string {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return ""
	}
	if i := strings.Index(name, "__"); i > 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
