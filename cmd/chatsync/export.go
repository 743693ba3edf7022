// ABOUTME: export subcommand that dumps a conversation ledger as JSON lines
// ABOUTME: Walks the SQLite ledger oldest first, optionally after an event or a timestamp

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/2389/coven-chatsync/internal/event"
	"github.com/2389/coven-chatsync/internal/localengine"
	"github.com/2389/coven-chatsync/internal/store"
)

// exportLine is one JSON line of an export.
type exportLine struct {
	Ref       string    `json:"ref"`
	Sequence  int64     `json:"sequence"`
	Kind      string    `json:"kind"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	after := fs.String("after", "", "resume after this event ref")
	since := fs.String("since", "", "skip events before this RFC 3339 time")
	if err := fs.Parse(args); err != nil {
		return err
	}
	conversation := defaultConversation
	if fs.NArg() > 0 {
		conversation = fs.Arg(0)
	}

	opts := localengine.ExportOptions{AfterRef: *after}
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			return fmt.Errorf("parsing -since: %w", err)
		}
		opts.Since = &t
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer db.Close()

	eng := localengine.New(localengine.Config{Store: db, Self: cfg.Session.Self})
	defer eng.Close()

	w := bufio.NewWriter(os.Stdout)
	if err := exportConversation(ctx, eng, conversation, opts, w); err != nil {
		return err
	}
	return w.Flush()
}

func exportConversation(ctx context.Context, eng *localengine.Engine, conversation string, opts localengine.ExportOptions, w io.Writer) error {
	enc := json.NewEncoder(w)
	return eng.Export(ctx, conversation, opts, func(e event.EngineEvent) error {
		return enc.Encode(toExportLine(e))
	})
}

func toExportLine(e event.EngineEvent) exportLine {
	line := exportLine{
		Ref:      e.Ref,
		Sequence: e.Sequence,
		Kind:     string(e.Kind),
	}
	if msg, ok := e.Payload.(*localengine.Message); ok {
		line.Author = msg.Author
		line.Text = msg.Text
		line.Timestamp = msg.Timestamp
	}
	return line
}
