/*
handlers.go - HTTP API handlers for the ledger and settlement engine

PURPOSE:
  Exposes the room engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates everything else to the engine.

ENDPOINTS:
  Rooms:
    GET    /api/rooms                       List rooms
    POST   /api/rooms                       Create room
    GET    /api/rooms/{id}                  Room details (members, volume)
    POST   /api/rooms/{id}/members          Register a member

  Ledger:
    GET    /api/rooms/{id}/payments         Ledger in replay order
    POST   /api/rooms/{id}/payments         Record a payment
    DELETE /api/rooms/{id}/payments/{pid}   Delete (reverse) a payment

  Derived views:
    GET    /api/rooms/{id}/balances         Net balances
    GET    /api/rooms/{id}/settlement       Settlement plan

  State management:
    GET    /api/rooms/{id}/state            Export running state
    PUT    /api/rooms/{id}/state            Import running state
    GET    /api/rooms/{id}/consistency      Ledger-vs-state drift check
    POST   /api/rooms/{id}/rebuild          Rebuild state from ledger

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown room or payment
  - 409: State drift detected
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization; room access control lives in the
  surrounding product layer, not here.
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fannypack/ledger-engine/room"
	"github.com/fannypack/ledger-engine/settle"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *room.Engine
	Log    *slog.Logger
}

// NewHandler creates a new handler around the given engine.
func NewHandler(engine *room.Engine, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Engine: engine, Log: log}
}

// =============================================================================
// ROOM HANDLERS
// =============================================================================

// ListRooms returns all rooms.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Engine.ListRooms(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to list rooms", err)
		return
	}

	dtos := make([]RoomDTO, len(rooms))
	for i, rm := range rooms {
		dtos[i] = roomDTO(rm)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRoom creates a room with an empty ledger.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Room name is required", nil)
		return
	}

	rm, err := h.Engine.CreateRoom(r.Context(), req.Name)
	if err != nil {
		h.writeEngineError(w, "Failed to create room", err)
		return
	}
	writeJSON(w, http.StatusCreated, roomDTO(rm))
}

// GetRoom returns one room with its member set and biggest pledger.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	rm, err := h.Engine.GetRoom(r.Context(), roomID)
	if err != nil {
		h.writeEngineError(w, "Failed to get room", err)
		return
	}
	members, err := h.Engine.Members(r.Context(), roomID)
	if err != nil {
		h.writeEngineError(w, "Failed to get members", err)
		return
	}
	biggest, err := h.Engine.BiggestPledger(r.Context(), roomID)
	if err != nil {
		h.writeEngineError(w, "Failed to get biggest pledger", err)
		return
	}

	dto := roomDTO(rm)
	dto.Members = make([]string, len(members))
	for i, m := range members {
		dto.Members[i] = string(m)
	}
	dto.BiggestPledger = string(biggest)
	writeJSON(w, http.StatusOK, dto)
}

// AddMember registers a member with a room.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Member == "" {
		writeError(w, http.StatusBadRequest, "Member is required", nil)
		return
	}

	roomID := chi.URLParam(r, "id")
	if err := h.Engine.AddMember(r.Context(), roomID, settle.Member(req.Member)); err != nil {
		h.writeEngineError(w, "Failed to add member", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListPayments returns the room's ledger in replay order.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Engine.Payments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = paymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordPayment appends a payment and returns fresh balances and plan.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Pledger == "" {
		writeError(w, http.StatusBadRequest, "Pledger is required", nil)
		return
	}
	if len(req.Splits) == 0 {
		writeError(w, http.StatusBadRequest, "At least one split is required", nil)
		return
	}

	date := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date, expected RFC3339", err)
			return
		}
		date = parsed
	}

	res, err := h.Engine.RecordPayment(r.Context(), chi.URLParam(r, "id"),
		settle.Member(req.Pledger), splitsFromDTO(req.Splits), date, req.Label)
	if err != nil {
		h.writeEngineError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse(res))
}

// DeletePayment reverses and removes a ledger entry.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.DeletePayment(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeEngineError(w, "Failed to delete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse(res))
}

// =============================================================================
// DERIVED VIEW HANDLERS
// =============================================================================

// GetBalances returns each member's net position.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Engine.Balances(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to get balances", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceDTOs(balances))
}

// GetSettlementPlan returns the ordered transfer list that settles the room.
func (h *Handler) GetSettlementPlan(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.Engine.SettlementPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to get settlement plan", err)
		return
	}
	writeJSON(w, http.StatusOK, transferDTOs(transfers))
}

// =============================================================================
// STATE HANDLERS
// =============================================================================

// ExportState returns the room's serialized running state.
func (h *Handler) ExportState(w http.ResponseWriter, r *http.Request) {
	blob, err := h.Engine.ExportState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to export state", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

// ImportState replaces the room's running state with the request body.
func (h *Handler) ImportState(w http.ResponseWriter, r *http.Request) {
	var blob json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&blob); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid state blob", err)
		return
	}

	if err := h.Engine.ImportState(r.Context(), chi.URLParam(r, "id"), blob); err != nil {
		h.writeEngineError(w, "Failed to import state", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// CheckConsistency compares the running state against a full ledger replay.
func (h *Handler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	err := h.Engine.CheckConsistency(r.Context(), chi.URLParam(r, "id"))
	if err == nil {
		writeJSON(w, http.StatusOK, ConsistencyDTO{Consistent: true})
		return
	}
	if errors.Is(err, settle.ErrStateDrift) {
		writeJSON(w, http.StatusConflict, ConsistencyDTO{
			Consistent: false,
			Detail:     err.Error(),
		})
		return
	}
	h.writeEngineError(w, "Failed to check consistency", err)
}

// Rebuild recomputes the running state from the ledger.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Rebuild(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeEngineError(w, "Failed to rebuild state", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func paymentResponse(res room.PaymentResult) PaymentResponse {
	return PaymentResponse{
		Payment:   paymentDTO(res.Payment),
		Balances:  balanceDTOs(res.Balances),
		Transfers: transferDTOs(res.Transfers),
	}
}

// writeEngineError maps engine errors to HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, settle.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case settle.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, settle.ErrStateDrift):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.Log.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	if data == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
