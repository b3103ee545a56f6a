/*
Package sqlite provides a SQLite-backed implementation of room.Store.

PURPOSE:
  Persists rooms, membership, the payment ledger, and each room's serialized
  running state. The same patterns apply to PostgreSQL; only minor SQL
  dialect differences.

KEY TABLES:
  rooms:        Room records plus the running-state blob and total volume
  room_members: Monotonically growing membership per room
  payments:     Ledger entries (one row per payment)
  splits:       Per-member obligations of a payment

REPLAY ORDER:
  Payments are returned ordered by payment date, then by insertion sequence
  for equal dates. Balance recomputation and drift checks rely on this
  ordering being stable.

AMOUNT STORAGE:
  Amounts are stored as decimal strings, never as REAL: the engine is
  decimal end-to-end and SQLite floats would reintroduce rounding noise.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode. The room engine
  additionally serializes writes per room, so the store only needs to keep
  individual statements consistent.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fannypack/ledger-engine/room"
	"github.com/fannypack/ledger-engine/settle"
)

// Store implements room.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ room.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		total_volume TEXT NOT NULL DEFAULT '0',
		state_json TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		member TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		PRIMARY KEY (room_id, member)
	);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		pledger TEXT NOT NULL,
		date TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		seq INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Replay order (hot path for rebuilds and drift checks)
	CREATE INDEX IF NOT EXISTS idx_payments_room_date
		ON payments(room_id, date, seq);

	CREATE TABLE IF NOT EXISTS splits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payment_id TEXT NOT NULL REFERENCES payments(id) ON DELETE CASCADE,
		debtor TEXT NOT NULL,
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_splits_payment
		ON splits(payment_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROOMS
// =============================================================================

func (s *Store) CreateRoom(ctx context.Context, r room.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, total_volume, created_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.Name, r.TotalVolume.String(), r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, total_volume, created_at FROM rooms WHERE id = ?`, roomID)
	return scanRoom(row)
}

func (s *Store) ListRooms(ctx context.Context) ([]room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, total_volume, created_at FROM rooms ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var out []room.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SetTotalVolume(ctx context.Context, roomID string, v decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET total_volume = ? WHERE id = ?`, v.String(), roomID)
	if err != nil {
		return fmt.Errorf("failed to update total volume: %w", err)
	}
	return requireRow(res, room.ErrRoomNotFound)
}

// =============================================================================
// MEMBERS
// =============================================================================

func (s *Store) AddMember(ctx context.Context, roomID string, m settle.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roomExists(ctx, roomID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_members (room_id, member, joined_at) VALUES (?, ?, ?)`,
		roomID, string(m), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (s *Store) Members(ctx context.Context, roomID string) ([]settle.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT member FROM room_members WHERE room_id = ? ORDER BY joined_at, member`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var out []settle.Member
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, settle.Member(m))
	}
	return out, rows.Err()
}

// =============================================================================
// PAYMENTS (LEDGER)
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, roomID string, p settle.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roomExists(ctx, roomID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM payments WHERE room_id = ?`, roomID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payments (id, room_id, pledger, date, label, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, roomID, string(p.Pledger), p.Date.UTC().Format(time.RFC3339Nano),
		p.Label, seq, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	for _, sp := range p.Splits {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO splits (payment_id, debtor, amount) VALUES (?, ?, ?)`,
			p.ID, string(sp.Debtor), sp.Amount.String())
		if err != nil {
			return fmt.Errorf("failed to insert split: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) Payments(ctx context.Context, roomID string) ([]settle.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pledger, date, label FROM payments
		 WHERE room_id = ? ORDER BY date, seq`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []settle.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Splits, err = s.loadSplits(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) GetPayment(ctx context.Context, roomID, paymentID string) (settle.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, pledger, date, label FROM payments WHERE room_id = ? AND id = ?`,
		roomID, paymentID)

	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return settle.Payment{}, settle.ErrPaymentNotFound
	}
	if err != nil {
		return settle.Payment{}, err
	}

	if p.Splits, err = s.loadSplits(ctx, p.ID); err != nil {
		return settle.Payment{}, err
	}
	return p, nil
}

func (s *Store) DeletePayment(ctx context.Context, roomID, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM splits WHERE payment_id = ?`, paymentID); err != nil {
		return fmt.Errorf("failed to delete splits: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM payments WHERE room_id = ? AND id = ?`, roomID, paymentID)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	if err := requireRow(res, settle.ErrPaymentNotFound); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// RUNNING STATE
// =============================================================================

func (s *Store) SaveState(ctx context.Context, roomID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET state_json = ? WHERE id = ?`, string(blob), roomID)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return requireRow(res, room.ErrRoomNotFound)
}

func (s *Store) LoadState(ctx context.Context, roomID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM rooms WHERE id = ?`, roomID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, room.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return []byte(blob), nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (room.Room, error) {
	var (
		r               room.Room
		volume, created string
	)
	err := row.Scan(&r.ID, &r.Name, &volume, &created)
	if err == sql.ErrNoRows {
		return room.Room{}, room.ErrRoomNotFound
	}
	if err != nil {
		return room.Room{}, fmt.Errorf("failed to scan room: %w", err)
	}

	if r.TotalVolume, err = decimal.NewFromString(volume); err != nil {
		return room.Room{}, fmt.Errorf("failed to parse total volume: %w", err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return room.Room{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return r, nil
}

func scanPayment(row scanner) (settle.Payment, error) {
	var (
		p              settle.Payment
		pledger, dateS string
	)
	if err := row.Scan(&p.ID, &pledger, &dateS, &p.Label); err != nil {
		return settle.Payment{}, err
	}

	p.Pledger = settle.Member(pledger)
	date, err := time.Parse(time.RFC3339Nano, dateS)
	if err != nil {
		return settle.Payment{}, fmt.Errorf("failed to parse payment date: %w", err)
	}
	p.Date = date
	return p, nil
}

func (s *Store) loadSplits(ctx context.Context, paymentID string) ([]settle.Split, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT debtor, amount FROM splits WHERE payment_id = ? ORDER BY id`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list splits: %w", err)
	}
	defer rows.Close()

	var out []settle.Split
	for rows.Next() {
		var debtor, amount string
		if err := rows.Scan(&debtor, &amount); err != nil {
			return nil, err
		}
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse split amount: %w", err)
		}
		out = append(out, settle.Split{Debtor: settle.Member(debtor), Amount: v})
	}
	return out, rows.Err()
}

func (s *Store) roomExists(ctx context.Context, roomID string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM rooms WHERE id = ?`, roomID).Scan(&one)
	if err == sql.ErrNoRows {
		return room.ErrRoomNotFound
	}
	return err
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
