// Package store provides an in-memory room.Store for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fannypack/ledger-engine/room"
	"github.com/fannypack/ledger-engine/settle"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	rooms    map[string]room.Room
	order    []string
	members  map[string][]settle.Member
	payments map[string][]settle.Payment
	states   map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]room.Room),
		members:  make(map[string][]settle.Member),
		payments: make(map[string][]settle.Payment),
		states:   make(map[string][]byte),
	}
}

func (m *Memory) CreateRoom(_ context.Context, r room.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = r
	m.order = append(m.order, r.ID)
	return nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (room.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return room.Room{}, room.ErrRoomNotFound
	}
	return r, nil
}

func (m *Memory) ListRooms(_ context.Context) ([]room.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]room.Room, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rooms[id])
	}
	return out, nil
}

func (m *Memory) SetTotalVolume(_ context.Context, roomID string, v decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return room.ErrRoomNotFound
	}
	r.TotalVolume = v
	m.rooms[roomID] = r
	return nil
}

func (m *Memory) AddMember(_ context.Context, roomID string, member settle.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return room.ErrRoomNotFound
	}
	for _, existing := range m.members[roomID] {
		if existing == member {
			return nil
		}
	}
	m.members[roomID] = append(m.members[roomID], member)
	return nil
}

func (m *Memory) Members(_ context.Context, roomID string) ([]settle.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]settle.Member, len(m.members[roomID]))
	copy(out, m.members[roomID])
	return out, nil
}

func (m *Memory) AppendPayment(_ context.Context, roomID string, p settle.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return room.ErrRoomNotFound
	}

	payments := m.payments[roomID]
	// Insert in replay order: date ascending, stable for equal dates.
	i := sort.Search(len(payments), func(i int) bool {
		return payments[i].Date.After(p.Date)
	})
	payments = append(payments, settle.Payment{})
	copy(payments[i+1:], payments[i:])
	payments[i] = p
	m.payments[roomID] = payments
	return nil
}

func (m *Memory) Payments(_ context.Context, roomID string) ([]settle.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]settle.Payment, len(m.payments[roomID]))
	copy(out, m.payments[roomID])
	return out, nil
}

func (m *Memory) GetPayment(_ context.Context, roomID, paymentID string) (settle.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments[roomID] {
		if p.ID == paymentID {
			return p, nil
		}
	}
	return settle.Payment{}, settle.ErrPaymentNotFound
}

func (m *Memory) DeletePayment(_ context.Context, roomID, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payments := m.payments[roomID]
	for i, p := range payments {
		if p.ID == paymentID {
			m.payments[roomID] = append(payments[:i], payments[i+1:]...)
			return nil
		}
	}
	return settle.ErrPaymentNotFound
}

func (m *Memory) SaveState(_ context.Context, roomID string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return room.ErrRoomNotFound
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	m.states[roomID] = cp
	return nil
}

func (m *Memory) LoadState(_ context.Context, roomID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[roomID], nil
}

var _ room.Store = (*Memory)(nil)
