/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mbsmash/cape-smash/ranking"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore spreads the snapshot over relational tables: one row per player
// and one per ledger entry, each carrying its JSON encoding.
type SQLStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

type playerRow struct {
	ID             int    `db:"id"`
	Tag            string `db:"tag"`
	ExternalUserID string `db:"external_user_id"`
	Record         string `db:"record"`
}

type ledgerRow struct {
	RowID    string `db:"row_id"`
	Label    string `db:"label"`
	Position int    `db:"position"`
	Entry    string `db:"entry"`
}

type metaRow struct {
	Name  string `db:"name"`
	Value string `db:"value"`
}

// OpenSQL connects with driver (sqlite3 or postgres) and applies the
// embedded migrations.
func OpenSQL(ctx context.Context, driver string, dsn string,
	logger zerolog.Logger) (*SQLStore, error) {

	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == DriverSQLite {
		// a single writer avoids SQLITE_BUSY between Save transactions
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			logger.Warn().Err(err).Msg("failed to set journal_mode")
		}
	}

	if err := runMigrations(db, driver, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLStore{db: db, log: logger}, nil
}

func runMigrations(db *sqlx.DB, driver string, logger zerolog.Logger) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(driver); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}

	logger.Debug().Str("driver", driver).Msg("migrations completed")
	return nil
}

func (s *SQLStore) Load(ctx context.Context) (*ranking.Snapshot, error) {
	var meta []metaRow
	if err := s.db.SelectContext(ctx, &meta,
		"SELECT name, value FROM snapshot_meta"); err != nil {
		return nil, fmt.Errorf("loading meta: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}

	var players []playerRow
	if err := s.db.SelectContext(ctx, &players,
		"SELECT id, tag, external_user_id, record FROM players ORDER BY id"); err != nil {
		return nil, fmt.Errorf("loading players: %w", err)
	}
	var ledger []ledgerRow
	if err := s.db.SelectContext(ctx, &ledger,
		"SELECT row_id, label, position, entry FROM ledger_entries ORDER BY position"); err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}

	// reassemble the document so decoding (and legacy detection) stays in
	// one place
	doc := struct {
		Version         int               `json:"version"`
		NextID          int               `json:"nextId"`
		RatingsMigrated bool              `json:"ratingsMigrated"`
		Records         []json.RawMessage `json:"records"`
		Ledger          []json.RawMessage `json:"ledger"`
		ArchivedLabels  json.RawMessage   `json:"archivedLabels,omitempty"`
	}{
		Records: make([]json.RawMessage, 0, len(players)),
		Ledger:  make([]json.RawMessage, 0, len(ledger)),
	}
	for _, m := range meta {
		var err error
		switch m.Name {
		case "version":
			doc.Version, err = strconv.Atoi(m.Value)
		case "nextId":
			doc.NextID, err = strconv.Atoi(m.Value)
		case "ratingsMigrated":
			doc.RatingsMigrated, err = strconv.ParseBool(m.Value)
		case "archivedLabels":
			doc.ArchivedLabels = json.RawMessage(m.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("meta %v: %w", m.Name, err)
		}
	}
	for _, p := range players {
		doc.Records = append(doc.Records, json.RawMessage(p.Record))
	}
	for _, l := range ledger {
		doc.Ledger = append(doc.Ledger, json.RawMessage(l.Entry))
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return ranking.UnmarshalSnapshot(data)
}

// Save replaces every row in a single transaction.
func (s *SQLStore) Save(ctx context.Context, snap *ranking.Snapshot) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"snapshot_meta", "players", "ledger_entries"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %v: %w", table, err)
		}
	}

	meta := []metaRow{
		{Name: "version", Value: strconv.Itoa(snap.Version)},
		{Name: "nextId", Value: strconv.Itoa(snap.NextID)},
		{Name: "ratingsMigrated", Value: strconv.FormatBool(snap.RatingsMigrated)},
	}
	if len(snap.ArchivedLabels) > 0 {
		var labels []byte
		if labels, err = json.Marshal(snap.ArchivedLabels); err != nil {
			return err
		}
		meta = append(meta, metaRow{Name: "archivedLabels", Value: string(labels)})
	}
	for _, m := range meta {
		if _, err = tx.NamedExecContext(ctx,
			"INSERT INTO snapshot_meta (name, value) VALUES (:name, :value)", m); err != nil {
			return fmt.Errorf("saving meta: %w", err)
		}
	}

	for _, rec := range snap.Records {
		var data []byte
		if data, err = json.Marshal(rec); err != nil {
			return err
		}
		row := playerRow{
			ID:             rec.ID,
			Tag:            rec.Tag,
			ExternalUserID: rec.ExternalUserID,
			Record:         string(data),
		}
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO players
			(id, tag, external_user_id, record)
			VALUES (:id, :tag, :external_user_id, :record)`, row); err != nil {
			return fmt.Errorf("saving player %v: %w", rec.ID, err)
		}
	}

	insertEntry := tx.Rebind(`INSERT INTO ledger_entries
		(row_id, label, position, entry) VALUES (?, ?, ?, ?)`)
	for i, e := range snap.Ledger {
		var data []byte
		if data, err = json.Marshal(e); err != nil {
			return err
		}
		var rowID string
		if rowID, err = gonanoid.New(); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, insertEntry, rowID, e.Label, i,
			string(data)); err != nil {
			return fmt.Errorf("saving ledger entry %v: %w", e.Label, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	s.log.Debug().Int("players", len(snap.Records)).
		Int("tournaments", len(snap.Ledger)).Msg("snapshot saved")
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
