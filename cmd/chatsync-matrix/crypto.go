// ABOUTME: End-to-end encryption for the chatsync Matrix client
// ABOUTME: Opens a per-account cryptohelper store and exposes its decrypter for room history

package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
	"maunium.net/go/mautrix/event"

	"github.com/2389/coven-chatsync/internal/matrixengine"
)

// e2ee is the encryption state attached to one logged-in client.
type e2ee struct {
	helper    *cryptohelper.CryptoHelper
	storePath string
	failures  atomic.Int64 // history events that could not be decrypted
	logger    *slog.Logger
}

// openE2EE attaches a crypto helper to client. The store lives under
// dataDir/crypto, one database per account, and is discarded when it was
// written by another device. A recovery key, when configured, cross-signs
// the device; failing that is logged and encryption carries on.
func openE2EE(ctx context.Context, client *mautrix.Client, mc MatrixConfig, dataDir string, logger *slog.Logger) (*e2ee, error) {
	logger = logger.With("component", "e2ee")

	dir := filepath.Join(dataDir, "crypto")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating crypto directory: %w", err)
	}
	storePath := filepath.Join(dir, slugify(client.UserID.String())+".db")

	if err := resetStaleStore(storePath, client.DeviceID.String(), logger); err != nil {
		return nil, err
	}

	helper, err := cryptohelper.NewCryptoHelper(client, pickleKey(client.UserID.String()), storePath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	client.Crypto = helper

	e := &e2ee{helper: helper, storePath: storePath, logger: logger}
	logger.Info("encryption ready", "store", storePath, "device_id", client.DeviceID)

	if mc.RecoveryKey != "" {
		if err := e.crossSign(ctx, mc.RecoveryKey); err != nil {
			logger.Warn("device not cross-signed", "error", err)
		}
	}
	return e, nil
}

func (e *e2ee) crossSign(ctx context.Context, recoveryKey string) error {
	machine := e.helper.Machine()
	if machine == nil {
		return errors.New("olm machine not initialized")
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		return fmt.Errorf("verifying with recovery key: %w", err)
	}
	e.logger.Info("device cross-signed with recovery key")
	return nil
}

// decrypter returns the hook the engine uses for encrypted /messages
// history. Failures are counted and logged per event.
func (e *e2ee) decrypter() matrixengine.DecryptFunc {
	return func(ctx context.Context, evt *event.Event) (*event.Event, error) {
		decrypted, err := e.helper.Decrypt(ctx, evt)
		if err != nil {
			n := e.failures.Add(1)
			e.logger.Debug("history event not decrypted",
				"room_id", evt.RoomID,
				"event_id", evt.ID,
				"failures", n,
				"error", err)
			return nil, err
		}
		return decrypted, nil
	}
}

// Close releases the crypto store.
func (e *e2ee) Close() error {
	if n := e.failures.Load(); n > 0 {
		e.logger.Info("closing crypto store", "undecrypted_history_events", n)
	}
	return e.helper.Close()
}

// slugify turns a Matrix user ID into a file name: the leading @ is dropped,
// the server separator becomes _ and anything else unsafe is removed.
func slugify(userID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		case r == ':':
			return '_'
		default:
			return -1
		}
	}, strings.TrimPrefix(userID, "@"))
}

// pickleKey derives the crypto store key for an account.
func pickleKey(userID string) []byte {
	h := sha256.Sum256([]byte("chatsync-matrix-crypto:" + userID))
	return h[:]
}

// resetStaleStore removes the crypto store when it holds an account for a
// device other than deviceID. It runs before the helper opens the store.
func resetStaleStore(storePath, deviceID string, logger *slog.Logger) error {
	stored, err := storedDeviceID(storePath)
	if err != nil {
		logger.Debug("could not read stored device id", "error", err)
		return nil
	}
	if stored == "" || stored == deviceID {
		return nil
	}

	logger.Warn("crypto store belongs to another device, resetting",
		"stored_device_id", stored,
		"device_id", deviceID)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(storePath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale crypto store: %w", err)
		}
	}
	return nil
}

// storedDeviceID returns the device id recorded in the crypto store, or ""
// when there is no store or no account in it yet.
func storedDeviceID(storePath string) (string, error) {
	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		return "", nil
	}

	db, err := sql.Open("sqlite3", storePath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var deviceID string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return deviceID, err
}
