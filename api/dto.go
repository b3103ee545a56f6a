/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS:
  Wire amounts are decimal.Decimal: shopspring marshals them as JSON
  numbers and accepts both numbers and strings on input, so clients never
  deal with binary-float drift.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are pure
  data carriers.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fannypack/ledger-engine/room"
	"github.com/fannypack/ledger-engine/settle"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// RoomDTO represents a room in API responses.
type RoomDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	TotalVolume    decimal.Decimal `json:"total_volume"`
	Members        []string        `json:"members,omitempty"`
	BiggestPledger string          `json:"biggest_pledger,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

// CreateRoomRequest is the request to create a room.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// AddMemberRequest is the request to register a member with a room.
type AddMemberRequest struct {
	Member string `json:"member"`
}

// SplitDTO is one member's owed share of a payment.
type SplitDTO struct {
	Debtor string          `json:"debtor"`
	Amount decimal.Decimal `json:"amount"`
}

// RecordPaymentRequest is the request to append a payment to a room's ledger.
type RecordPaymentRequest struct {
	Pledger string     `json:"pledger"`
	Splits  []SplitDTO `json:"splits"`
	Date    string     `json:"date,omitempty"` // RFC3339; defaults to now
	Label   string     `json:"label,omitempty"`
}

// PaymentDTO represents a ledger entry in API responses.
type PaymentDTO struct {
	ID      string          `json:"id"`
	Pledger string          `json:"pledger"`
	Amount  decimal.Decimal `json:"amount"`
	Splits  []SplitDTO      `json:"splits"`
	Date    string          `json:"date"`
	Label   string          `json:"label,omitempty"`
}

// BalanceDTO is one member's net position. Positive = owes the group.
type BalanceDTO struct {
	Member  string          `json:"member"`
	Balance decimal.Decimal `json:"balance"`
}

// TransferDTO is one leg of a settlement plan.
type TransferDTO struct {
	Payer     string          `json:"payer"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// PaymentResponse is returned by the mutating payment endpoints: the payment
// touched plus the room's fresh balances and settlement plan.
type PaymentResponse struct {
	Payment   PaymentDTO    `json:"payment"`
	Balances  []BalanceDTO  `json:"balances"`
	Transfers []TransferDTO `json:"transfers"`
}

// ConsistencyDTO reports the outcome of an explicit consistency check.
type ConsistencyDTO struct {
	Consistent bool   `json:"consistent"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func roomDTO(r room.Room) RoomDTO {
	return RoomDTO{
		ID:          r.ID,
		Name:        r.Name,
		TotalVolume: r.TotalVolume,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}
}

func paymentDTO(p settle.Payment) PaymentDTO {
	splits := make([]SplitDTO, len(p.Splits))
	for i, s := range p.Splits {
		splits[i] = SplitDTO{Debtor: string(s.Debtor), Amount: s.Amount}
	}
	return PaymentDTO{
		ID:      p.ID,
		Pledger: string(p.Pledger),
		Amount:  p.Amount(),
		Splits:  splits,
		Date:    p.Date.Format(time.RFC3339),
		Label:   p.Label,
	}
}

func balanceDTOs(b settle.Balances) []BalanceDTO {
	out := make([]BalanceDTO, 0, b.Len())
	for _, m := range b.Members() {
		out = append(out, BalanceDTO{Member: string(m), Balance: b.Get(m)})
	}
	return out
}

func transferDTOs(transfers []settle.Transfer) []TransferDTO {
	out := make([]TransferDTO, 0, len(transfers))
	for _, tr := range transfers {
		out = append(out, TransferDTO{
			Payer:     string(tr.Payer),
			Recipient: string(tr.Recipient),
			Amount:    tr.Amount,
		})
	}
	return out
}

func splitsFromDTO(splits []SplitDTO) []settle.Split {
	out := make([]settle.Split, len(splits))
	for i, s := range splits {
		out[i] = settle.Split{Debtor: settle.Member(s.Debtor), Amount: s.Amount}
	}
	return out
}
