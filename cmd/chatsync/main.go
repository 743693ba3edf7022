// ABOUTME: Entry point for the chatsync terminal client over the local ledger
// ABOUTME: Loads config, opens the SQLite ledger and runs the console, engine and metrics server

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chatsync/internal/broadcast"
	"github.com/2389/coven-chatsync/internal/config"
	"github.com/2389/coven-chatsync/internal/console"
	"github.com/2389/coven-chatsync/internal/dispatch"
	"github.com/2389/coven-chatsync/internal/event"
	"github.com/2389/coven-chatsync/internal/localengine"
	"github.com/2389/coven-chatsync/internal/metrics"
	"github.com/2389/coven-chatsync/internal/session"
	"github.com/2389/coven-chatsync/internal/store"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _           _
  ___| |__   __ _| |_ ___ _   _ _ __   ___
 / __| '_ \ / _' | __/ __| | | | '_ \ / __|
| (__| | | | (_| | |_\__ \ |_| | | | | (__
 \___|_| |_|\__,_|\__|___/\__, |_| |_|\___|
                          |___/
`

const defaultConversation = "general"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runClient(ctx, args)
	case "export":
		err = runExport(ctx, args)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Println("Usage: chatsync [run] [-config path] [conversation]")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run       Open a conversation (default)")
		fmt.Println("  export    Print a conversation as JSON lines")
		fmt.Println("  init      Create a new config file interactively")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads path, or the first config FindPath locates, or falls
// back to defaults when there is none.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		path = config.FindPath()
	}
	if path == "" {
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runClient(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	conversation := defaultConversation
	if fs.NArg() > 0 {
		conversation = fs.Arg(0)
	}

	cfg, source, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.Engine.Kind != config.EngineLocal {
		return fmt.Errorf("engine.kind %q is served by chatsync-matrix", cfg.Engine.Kind)
	}

	logger := console.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:       %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("Ledger:       %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Conversation: %s\n", conversation)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:      http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	gray.Println("    type /help for commands")
	fmt.Println()

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	bc := broadcast.New(logger, cfg.Session.QueueSize)
	defer bc.Close()

	eng := localengine.New(localengine.Config{
		Store:       db,
		Broadcaster: bc,
		Self:        cfg.Session.Self,
		Logger:      logger,
	})
	defer eng.Close()

	ui := dispatch.New("presentation", logger)
	defer ui.Close()

	sess := session.New(session.Config{
		Engine:       eng,
		Executor:     eng.Queue(),
		Presentation: ui,
		PageSize:     cfg.Session.PageSize,
		FetchTimeout: cfg.Engine.FetchTimeout,
		SendTimeout:  cfg.Engine.SendTimeout,
		Metrics:      m,
		Logger:       logger,
	})

	con := console.New(console.Config{
		Session:      sess,
		Presentation: ui,
		In:           os.Stdin,
		Out:          os.Stdout,
		Conversation: conversation,
		Format:       formatRecord,
		Commands:     localCommands(eng, sess, ui),
		Logger:       logger,
	})

	logger.Info("starting chatsync",
		"config", source,
		"database", cfg.Database.Path,
		"conversation_id", conversation,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(ui.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(eng.Run(gctx)) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics, reg, logger) })
	}
	g.Go(func() error {
		defer func() {
			// Leaving the console ends the process.
			ui.Close()
			eng.Close()
		}()
		if err := con.Run(gctx); err != nil {
			return err
		}
		_ = ui.Do(context.Background(), sess.Deactivate)
		return errStop
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStop) {
		return err
	}
	return nil
}

// errStop ends the errgroup after the console exits normally.
var errStop = errors.New("console closed")

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", "error", err)
		}
	}()

	logger.Info("metrics server listening", "addr", cfg.Addr, "path", cfg.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// localCommands are the console commands only the local ledger supports.
func localCommands(eng *localengine.Engine, sess *session.Session, ui *dispatch.Queue) map[string]console.Command {
	current := func(ctx context.Context) (string, error) {
		var conv string
		if err := ui.Do(ctx, func() { conv = sess.ConversationID() }); err != nil {
			return "", err
		}
		if conv == "" {
			return "", session.ErrNotActive
		}
		return conv, nil
	}

	return map[string]console.Command{
		"recv": {
			Usage: "/recv [who:] <text>",
			Help:  "record a message from someone else",
			Run: func(ctx context.Context, args string) error {
				conv, err := current(ctx)
				if err != nil {
					return err
				}
				author, text := parseRecv(args)
				_, err = eng.Receive(ctx, conv, author, text)
				return err
			},
		},
		"join": {
			Usage: "/join <who>",
			Help:  "record a participant joining",
			Run: func(ctx context.Context, args string) error {
				if args == "" {
					return errors.New("usage: /join <who>")
				}
				conv, err := current(ctx)
				if err != nil {
					return err
				}
				_, err = eng.Join(ctx, conv, args)
				return err
			},
		},
	}
}

// parseRecv splits "who: text"; without a prefix the author is "remote".
func parseRecv(args string) (author, text string) {
	if who, rest, ok := strings.Cut(args, ":"); ok && who != "" && !strings.ContainsAny(who, " \t") {
		return who, strings.TrimSpace(rest)
	}
	return "remote", args
}

func formatRecord(r event.Record) string {
	msg, ok := r.Payload().(*localengine.Message)
	if !ok {
		return console.DefaultFormat(r)
	}
	ts := msg.Timestamp.Local().Format("15:04")
	if r.Kind() == event.KindParticipantChange {
		return fmt.Sprintf("%s * %s %s", ts, msg.Author, msg.Text)
	}
	return fmt.Sprintf("%s <%s> %s", ts, msg.Author, msg.Text)
}

// prompt displays a prompt and returns user input or default value.
func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, err := reader.ReadString('\n')
	if err != nil {
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("chatsync configuration setup")
	fmt.Println("============================")
	fmt.Println()

	defaultPath := config.FindPath()
	if defaultPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			defaultPath = filepath.Join(home, ".config", "chatsync", "config.yaml")
		} else {
			defaultPath = "chatsync.yaml"
		}
	}

	outputFile := prompt(reader, "Config file path", defaultPath)
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	defaults := config.Default()

	fmt.Println("\n--- Ledger ---")
	dbPath := prompt(reader, "SQLite database path", defaults.Database.Path)
	self := prompt(reader, "Your name", localengine.DefaultSelf)

	fmt.Println("\n--- Session ---")
	pageSize := prompt(reader, "Page size", fmt.Sprint(defaults.Session.PageSize))

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "warn")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	fmt.Println("\n--- Metrics ---")
	enable := strings.ToLower(prompt(reader, "Serve Prometheus metrics?", "no"))
	metricsEnabled := enable == "yes" || enable == "y"
	metricsAddr := ""
	if metricsEnabled {
		metricsAddr = prompt(reader, "Metrics address", "localhost:9464")
	}

	var b strings.Builder
	b.WriteString("# chatsync configuration\n")
	b.WriteString("# Generated by chatsync init\n\n")
	fmt.Fprintf(&b, "database:\n  path: %q\n\n", dbPath)
	fmt.Fprintf(&b, "session:\n  page_size: %s\n  self: %q\n\n", pageSize, self)
	b.WriteString("engine:\n  kind: local\n  fetch_timeout: 30s\n  send_timeout: 30s\n\n")
	fmt.Fprintf(&b, "logging:\n  level: %q\n  format: %q\n\n", logLevel, logFormat)
	fmt.Fprintf(&b, "metrics:\n  enabled: %t\n", metricsEnabled)
	if metricsEnabled {
		fmt.Fprintf(&b, "  addr: %q\n  path: %q\n", metricsAddr, config.DefaultMetricsPath)
	}

	if _, err := config.Parse([]byte(b.String())); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	return nil
}
