/*
store.go - Persistence interface for rooms, members, and the payment ledger

PURPOSE:
  Defines the boundary between the room engine and the database. The engine
  only ever talks to this interface; SQLite and in-memory implementations
  plug in behind it.

CONTRACT NOTES:
  - Payments returns the ledger in replay order: payment date ascending,
    insertion order for equal dates. Every balance computation depends on
    this ordering being stable.
  - DeletePayment removes the row and its splits; the engine has already
    applied the reversal to the running state by the time it is called.
  - SaveState/LoadState persist the serialized running state per room; an
    empty blob means "no cache yet, rebuild from the ledger".

IMPLEMENTATIONS:
  - store/sqlite:    Production SQLite
  - room/store:      In-memory for tests
*/
package room

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fannypack/ledger-engine/settle"
)

// ErrRoomNotFound is returned for operations against an unknown room.
var ErrRoomNotFound = errors.New("room not found")

// Room is the persistence record for one group of members sharing expenses.
type Room struct {
	ID   string
	Name string

	// TotalVolume is the running sum of absolute payment amounts ever
	// recorded, deletions subtracted. Display-only; never feeds settlement.
	TotalVolume decimal.Decimal

	CreatedAt time.Time
}

// Store is the persistence boundary for the room engine.
type Store interface {
	// CreateRoom persists a new room record.
	CreateRoom(ctx context.Context, r Room) error

	// GetRoom returns a room, or ErrRoomNotFound.
	GetRoom(ctx context.Context, roomID string) (Room, error)

	// ListRooms returns all rooms in creation order.
	ListRooms(ctx context.Context) ([]Room, error)

	// SetTotalVolume updates a room's running volume.
	SetTotalVolume(ctx context.Context, roomID string, v decimal.Decimal) error

	// AddMember registers a member with the room. Idempotent; members are
	// never removed.
	AddMember(ctx context.Context, roomID string, m settle.Member) error

	// Members returns the room's members in join order.
	Members(ctx context.Context, roomID string) ([]settle.Member, error)

	// AppendPayment persists a payment and its splits atomically.
	AppendPayment(ctx context.Context, roomID string, p settle.Payment) error

	// Payments returns the room's ledger in replay order.
	Payments(ctx context.Context, roomID string) ([]settle.Payment, error)

	// GetPayment returns one payment, or settle.ErrPaymentNotFound.
	GetPayment(ctx context.Context, roomID, paymentID string) (settle.Payment, error)

	// DeletePayment removes a payment and its splits, or returns
	// settle.ErrPaymentNotFound.
	DeletePayment(ctx context.Context, roomID, paymentID string) error

	// SaveState persists the room's serialized running state.
	SaveState(ctx context.Context, roomID string, blob []byte) error

	// LoadState returns the room's serialized running state; empty when no
	// state has been saved yet.
	LoadState(ctx context.Context, roomID string) ([]byte, error)
}
