// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package credstore keeps the credential record of the linked account in a
// directory. The record's format is owned by whatsmeow's sqlstore; this
// package only decides where it lives and when it goes away.
package credstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/marketcalls/wabridge/pkg/connector"
)

// DBFileName is the name of the sqlite database inside the record directory.
const DBFileName = "session.db"

// Store is a directory-backed connector.CredentialStore.
type Store struct {
	Dir string
	log zerolog.Logger
}

var _ connector.CredentialStore = (*Store)(nil)

// New returns a store rooted at dir. Nothing is created until Load.
func New(dir string, log zerolog.Logger) *Store {
	return &Store{
		Dir: dir,
		log: log.With().Str("component", "credstore").Logger(),
	}
}

// Record is an open credential record.
type Record struct {
	// Device is the engine's key and session material. Its ID is nil until
	// the first successful pairing.
	Device *store.Device

	container *sqlstore.Container
}

var _ connector.CredentialRecord = (*Record)(nil)

// Load opens the record, creating an empty one if the directory or database
// does not exist yet.
func (s *Store) Load(ctx context.Context) (connector.CredentialRecord, error) {
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create auth directory: %w", err)
	}
	address := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.Join(s.Dir, DBFileName))
	container, err := sqlstore.New(ctx, "sqlite3", address, waLog.Zerolog(s.log))
	if err != nil {
		return nil, fmt.Errorf("failed to open auth store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	if device.ID != nil {
		s.log.Debug().Str("jid", device.ID.String()).Msg("Loaded existing credentials")
	} else {
		s.log.Debug().Msg("No credentials yet, pairing required")
	}
	return &Record{Device: device, container: container}, nil
}

// Erase removes the whole record directory. Erasing a missing record is
// not an error.
func (s *Store) Erase(_ context.Context) error {
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", s.Dir, err)
	}
	s.log.Info().Str("dir", s.Dir).Msg("Credentials erased")
	return nil
}

// Save flushes the device to the database. It is a no-op before pairing.
func (r *Record) Save(ctx context.Context) error {
	if r.Device == nil || r.Device.ID == nil {
		return nil
	}
	return r.Device.Save(ctx)
}

// Close closes the underlying database.
func (r *Record) Close() error {
	return r.container.Close()
}
