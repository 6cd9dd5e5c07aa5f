package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Store wraps whatsmeow's sqlstore and adds the gateway's own tables.
// The paired device's keys live here so a restart does not force re-pairing.
type Store struct {
	db        *sql.DB
	container *sqlstore.Container
	log       waLog.Logger
}

// New opens (or creates) the sqlite database at dbPath.
func New(ctx context.Context, dbPath string, log waLog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", log.Sub("whatsmeow"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to upgrade whatsmeow schema: %w", err)
	}

	s := &Store{
		db:        db,
		container: container,
		log:       log.Sub("Store"),
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create app tables: %w", err)
	}

	return s, nil
}

// GetDevice returns the stored device or a fresh unpaired one.
func (s *Store) GetDevice(ctx context.Context) (*store.Device, error) {
	devices, err := s.container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}

	if len(devices) > 0 {
		if len(devices) > 1 {
			s.log.Warnf("Found %d paired devices, using %s", len(devices), devices[0].ID)
		}
		return devices[0], nil
	}

	s.log.Infof("No paired device stored, a new one will be paired")
	return s.container.NewDevice(), nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
