// Package kvsops is the operations layer: it drives
// WRITE/READ/DELETE/SHOW/WAIT/BACKUP against the store and renders the
// exact output bytes pinned down for job result files.
package kvsops

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kvsd/kvsd/internal/jobfile"
	"github.com/kvsd/kvsd/internal/store"
	"github.com/rs/zerolog"
)

// Notifier is the subscription fan-out hook invoked once per pair a
// WRITE stores (never for DELETE). It is an interface rather than
// a concrete *session.Registry import so this package has no
// dependency on the session subsystem.
type Notifier interface {
	Notify(key, value string)
}

// Backupper spawns (or otherwise produces) a snapshot at destPath,
// never blocking the caller beyond admission into its concurrency
// gate. See internal/snapshot for the concrete implementation.
type Backupper interface {
	Spawn(destPath string) error
}

// Engine dispatches parsed Commands against a Store, writing the
// exact pinned-down bytes to out and fanning write notifications out
// through notifier.
type Engine struct {
	Store    *store.Store
	Notifier Notifier
	Backup   Backupper
	Logger   zerolog.Logger
}

// Execute runs one Command, writing its formatted result (if any) to
// out. nextBackupPath is consulted only for BACKUP commands; it
// returns the job-scoped "<stem>-<n>.bck" destination and advances the
// job's own snapshot counter, which starts at 1.
func (e *Engine) Execute(cmd jobfile.Command, out io.Writer, nextBackupPath func() string) error {
	switch cmd.Kind {
	case jobfile.KindWrite:
		return e.write(cmd.Pairs, out)
	case jobfile.KindRead:
		return e.read(cmd.Keys, out)
	case jobfile.KindDelete:
		return e.delete(cmd.Keys, out)
	case jobfile.KindShow:
		return e.show(out)
	case jobfile.KindWait:
		return e.wait(cmd.Ms, out)
	case jobfile.KindBackup:
		return e.backup(nextBackupPath())
	case jobfile.KindHelp:
		// HELP has no job-execution-time behavior; it exists for the
		// (out-of-scope) interactive client. Nothing is written to
		// the job output file.
		return nil
	default:
		return fmt.Errorf("kvsops: unhandled command kind %d", cmd.Kind)
	}
}

func (e *Engine) write(pairs []jobfile.Pair, out io.Writer) error {
	storePairs := make([]store.Pair, len(pairs))
	for i, p := range pairs {
		storePairs[i] = store.Pair{Key: p.Key, Value: p.Value}
	}

	ok := e.Store.WriteBatch(storePairs, e.Notifier.Notify)
	for i, succeeded := range ok {
		if !succeeded {
			fmt.Fprintf(out, "Failed to write keypair (%s,%s)\n", pairs[i].Key, pairs[i].Value)
		}
	}
	return nil
}

func (e *Engine) read(keys []string, out io.Writer) error {
	results := e.Store.ReadBatch(keys)
	var sb strings.Builder
	sb.WriteByte('[')
	for _, r := range results {
		if r.Missing {
			fmt.Fprintf(&sb, "(%s,KVSERROR)", r.Key)
		} else {
			fmt.Fprintf(&sb, "(%s,%s)", r.Key, r.Value)
		}
	}
	sb.WriteString("]\n")
	_, err := io.WriteString(out, sb.String())
	return err
}

func (e *Engine) delete(keys []string, out io.Writer) error {
	missing := e.Store.DeleteBatch(keys)
	if len(missing) == 0 {
		return nil // a fully-present batch emits nothing
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for _, k := range missing {
		fmt.Fprintf(&sb, "(%s,KVSMISSING)", k)
	}
	sb.WriteString("]\n")
	_, err := io.WriteString(out, sb.String())
	return err
}

func (e *Engine) show(out io.Writer) error {
	for _, p := range e.Store.Show() {
		if _, err := fmt.Fprintf(out, "(%s, %s)\n", p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) wait(ms int, out io.Writer) error {
	if _, err := io.WriteString(out, "Waiting...\n"); err != nil {
		return err
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return nil
}

func (e *Engine) backup(destPath string) error {
	if err := e.Backup.Spawn(destPath); err != nil {
		e.Logger.Warn().Err(err).Str("dest", destPath).Msg("backup failed")
		return err
	}
	return nil
}
