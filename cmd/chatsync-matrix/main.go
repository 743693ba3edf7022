// ABOUTME: Entry point for the chatsync terminal client over a Matrix room
// ABOUTME: Connects with an access token, enables E2EE, and runs sync, engine and console together

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-chatsync/internal/console"
	"github.com/2389/coven-chatsync/internal/dispatch"
	"github.com/2389/coven-chatsync/internal/event"
	"github.com/2389/coven-chatsync/internal/matrixengine"
	"github.com/2389/coven-chatsync/internal/session"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _           _                                 _        _
  ___| |__   __ _| |_ ___ _   _ _ __   ___   _ __ ___   __ _| |_ _ __(_)_  __
 / __| '_ \ / _' | __/ __| | | | '_ \ / __| | '_ ' _ \ / _' | __| '__| \ \/ /
| (__| | | | (_| | |_\__ \ |_| | | | | (__  | | | | | | (_| | |_| |  | |>  <
 \___|_| |_|\__,_|\__|___/\__, |_| |_|\___| |_| |_| |_|\__,_|\__|_|  |_/_/\_\
                          |___/
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "run":
		err = run(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Println("Usage: chatsync-matrix [run|init|version]")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := getConfigPath()
	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := console.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	if cfg.Matrix.Room != "" {
		green.Print("    ▶ ")
		fmt.Printf("Room:       %s\n", cfg.Matrix.Room)
	}
	if cfg.Matrix.Encryption {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	gray.Println("    type /help for commands")
	fmt.Println()

	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return fmt.Errorf("creating matrix client: %w", err)
	}
	client.DeviceID = id.DeviceID(cfg.Matrix.DeviceID)

	var decrypt matrixengine.DecryptFunc
	if cfg.Matrix.Encryption {
		if client.DeviceID == "" {
			whoami, err := client.Whoami(ctx)
			if err != nil {
				return fmt.Errorf("looking up device id: %w", err)
			}
			client.DeviceID = whoami.DeviceID
		}
		enc, err := openE2EE(ctx, client, cfg.Matrix, getDataPath(), logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer enc.Close()
		decrypt = enc.decrypter()
	}

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", client.Syncer)
	}

	eng := matrixengine.New(matrixengine.Config{
		Client:        client,
		UserID:        client.UserID,
		BackfillLimit: cfg.Session.BackfillLimit,
		Decrypt:       decrypt,
		Logger:        logger,
	})
	eng.Register(syncer)
	defer eng.Close()

	ui := dispatch.New("presentation", logger)
	defer ui.Close()

	sess := session.New(session.Config{
		Engine:       eng,
		Executor:     eng.Queue(),
		Presentation: ui,
		PageSize:     cfg.Session.PageSize,
		Logger:       logger,
	})

	con := console.New(console.Config{
		Session:      sess,
		Presentation: ui,
		In:           os.Stdin,
		Out:          os.Stdout,
		Conversation: cfg.Matrix.Room,
		Format:       formatRecord,
		Commands:     matrixCommands(client, ui),
		Logger:       logger,
	})

	logger.Info("starting chatsync-matrix",
		"homeserver", cfg.Matrix.Homeserver,
		"user_id", cfg.Matrix.UserID,
		"conversation_id", cfg.Matrix.Room,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(ui.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(eng.Run(gctx)) })
	g.Go(func() error {
		if err := client.SyncWithContext(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("matrix sync failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
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

// matrixCommands are the console commands that talk to the homeserver
// directly.
func matrixCommands(client *mautrix.Client, ui *dispatch.Queue) map[string]console.Command {
	return map[string]console.Command{
		"rooms": {
			Usage: "/rooms",
			Help:  "list joined rooms",
			Run: func(ctx context.Context, _ string) error {
				resp, err := client.JoinedRooms(ctx)
				if err != nil {
					return fmt.Errorf("listing rooms: %w", err)
				}
				return ui.Do(ctx, func() {
					for _, roomID := range resp.JoinedRooms {
						fmt.Println("  " + roomID.String())
					}
				})
			},
		},
	}
}

func formatRecord(r event.Record) string {
	switch p := r.Payload().(type) {
	case *matrixengine.Message:
		ts := p.Timestamp.Local().Format("15:04")
		if p.MsgType == "m.emote" {
			return fmt.Sprintf("%s * %s %s", ts, p.Sender, p.Body)
		}
		return fmt.Sprintf("%s <%s> %s", ts, p.Sender, p.Body)
	case *matrixengine.Membership:
		return fmt.Sprintf("%s * %s %s", p.Timestamp.Local().Format("15:04"), p.UserID, p.Membership)
	default:
		return console.DefaultFormat(r)
	}
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

	fmt.Println("chatsync-matrix configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var cfg Config
	fmt.Println("\n--- Matrix ---")
	cfg.Matrix.Homeserver = prompt(reader, "Homeserver URL", "https://matrix.org")
	cfg.Matrix.UserID = prompt(reader, "User ID (@user:server)", "")
	cfg.Matrix.AccessToken = prompt(reader, "Access token (or ${ENV_VAR})", "${CHATSYNC_MATRIX_TOKEN}")
	cfg.Matrix.Room = prompt(reader, "Room ID to open (!id:server, optional)", "")
	enc := strings.ToLower(prompt(reader, "Enable end-to-end encryption?", "yes"))
	cfg.Matrix.Encryption = enc == "yes" || enc == "y"
	if cfg.Matrix.Encryption {
		cfg.Matrix.RecoveryKey = prompt(reader, "Recovery key (optional)", "")
	}

	fmt.Println("\n--- Logging ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", "warn")
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", "text")
	cfg.applyDefaults()

	var b strings.Builder
	b.WriteString("# chatsync-matrix configuration\n")
	b.WriteString("# Generated by chatsync-matrix init\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	// Token placeholders are expanded at load time; validate a copy.
	check := cfg
	check.Matrix.AccessToken = expandEnvVars(check.Matrix.AccessToken)
	if check.Matrix.AccessToken == "" {
		fmt.Println("\nNote: the access token is empty until its environment variable is set.")
	} else if err := check.Validate(); err != nil {
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
