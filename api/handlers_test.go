/*
handlers_test.go - Unit tests for API handlers

Tests run against the full router with the in-memory store, so they cover
routing, JSON codecs, and error mapping in addition to the handlers.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fannypack/ledger-engine/room"
	"github.com/fannypack/ledger-engine/room/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := room.NewEngine(store.NewMemory(), log)
	return NewRouter(NewHandler(engine, log))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func createRoom(t *testing.T, router http.Handler, name string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[RoomDTO](t, rec).ID
}

func recordPayment(t *testing.T, router http.Handler, roomID string, req RecordPaymentRequest) PaymentResponse {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/payments", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[PaymentResponse](t, rec)
}

func evenSplit(pledger string, total float64, debtors ...string) RecordPaymentRequest {
	share := total / float64(len(debtors))
	req := RecordPaymentRequest{Pledger: pledger, Label: "test"}
	for _, d := range debtors {
		req.Splits = append(req.Splits, SplitDTO{Debtor: d, Amount: dec(share)})
	}
	return req
}

func balanceMap(balances []BalanceDTO) map[string]string {
	out := make(map[string]string, len(balances))
	for _, b := range balances {
		out[b.Member] = b.Balance.StringFixed(2)
	}
	return out
}

// =============================================================================
// ROOM TESTS
// =============================================================================

func TestCreateRoom_ReturnsRoom(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/rooms", CreateRoomRequest{Name: "Ski Trip"})

	require.Equal(t, http.StatusCreated, rec.Code)
	dto := decode[RoomDTO](t, rec)
	assert.NotEmpty(t, dto.ID)
	assert.Equal(t, "Ski Trip", dto.Name)
	assert.True(t, dto.TotalVolume.IsZero())
}

func TestCreateRoom_RequiresName(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/rooms", CreateRoomRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRooms_ReturnsAll(t *testing.T) {
	router := newTestRouter(t)
	createRoom(t, router, "Trip A")
	createRoom(t, router, "Trip B")

	rec := doJSON(t, router, http.MethodGet, "/api/rooms", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	rooms := decode[[]RoomDTO](t, rec)
	assert.Len(t, rooms, 2)
}

func TestGetRoom_IncludesMembersAndBiggestPledger(t *testing.T) {
	router := newTestRouter(t)
	roomID := createRoom(t, router, "Flat")
	recordPayment(t, router, roomID, evenSplit("alice", 100, "alice", "bob"))

	rec := doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[RoomDTO](t, rec)
	assert.ElementsMatch(t, []string{"alice", "bob"}, dto.Members)
	assert.Equal(t, "alice", dto.BiggestPledger)
	assert.Equal(t, "100", dto.TotalVolume.String())
}

func TestGetRoom_UnknownRoom404(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/rooms/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddMember_AppearsWithZeroBalance(t *testing.T) {
	router := newTestRouter(t)
	roomID := createRoom(t, router, "Flat")

	rec := doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/members",
		AddMemberRequest{Member: "carol"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	balRec := doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/balances", nil)
	require.Equal(t, http.StatusOK, balRec.Code)
	assert.Equal(t, map[string]string{"carol": "0.00"}, balanceMap(decode[[]BalanceDTO](t, balRec)))
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestRecordPayment_ReturnsBalancesAndPlan(t *testing.T) {
	// GIVEN: A fresh room
	router := newTestRouter(t)
	roomID := createRoom(t, router, "Dinner")

	// WHEN: Alice pays 110, split evenly with Bob
	res := recordPayment(t, router, roomID, evenSplit("alice", 110, "alice", "bob"))

	// THEN: Bob owes 55, and the plan is one transfer bob -> alice
	assert.Equal(t, "alice", res.Payment.Pledger)
	assert.Equal(t, "110", res.Payment.Amount.String())
	assert.Equal(t, map[string]string{"alice": "-55.00", "bob": "55.00"},
		balanceMap(res.Balances))
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, "bob", res.Transfers[0].Payer)
	assert.Equal(t, "alice", res.Transfers[0].Recipient)
	assert.Equal(t, "55.00", res.Transfers[0].Amount.StringFixed(2))
}

func TestRecordPayment_ValidatesInput(t *testing.T) {
	router := newTestRouter(t)
	roomID := createRoom(t, router, "Dinner")

	cases := []struct {
		name string
		req  RecordPaymentRequest
	}{
		{"missing pledger", RecordPaymentRequest{Splits: []SplitDTO{{Debtor: "bob", Amount: dec(10)}}}},
		{"no splits", RecordPaymentRequest{Pledger: "alice"}},
		{"negative split", RecordPaymentRequest{
			Pledger: "alice",
			Splits:  []SplitDTO{{Debtor: "bob", Amount: dec(-10)}},
		}},
		{"bad date", RecordPaymentRequest{
			Pledger: "alice",
			Splits:  []SplitDTO{{Debtor: "bob", Amount: dec(10)}},
			Date:    "yesterday",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/payments", tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestListPayments_ReplayOrder(t *testing.T) {
	router := newTestRouter(t)
	roomID := createRoom(t, router, "Trip")

	first := recordPayment(t, router, roomID, RecordPaymentRequest{
		Pledger: "alice",
		Splits:  []SplitDTO{{Debtor: "bob", Amount: dec(10)}},
		Date:    "2026-01-01T10:00:00Z",
	})
	second := recordPayment(t, router, roomID, RecordPaymentRequest{
		Pledger: "bob",
		Splits:  []SplitDTO{{Debtor: "alice", Amount: dec(20)}},
		Date:    "2026-01-02T10:00:00Z",
	})

	rec := doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payments := decode[[]PaymentDTO](t, rec)
	require.Len(t, payments, 2)
	assert.Equal(t, first.Payment.ID, payments[0].ID)
	assert.Equal(t, second.Payment.ID, payments[1].ID)
}

func TestDeletePayment_RestoresBalances(t *testing.T) {
	// GIVEN: Two payments on the ledger
	router := newTestRouter(t)
	roomID := createRoom(t, router, "Trip")
	keep := recordPayment(t, router, roomID, evenSplit("alice", 100, "alice", "bob"))
	drop := recordPayment(t, router, roomID, RecordPaymentRequest{
		Pledger: "bob",
		Splits:  []SplitDTO{{Debtor: "alice", Amount: dec(30)}},
	})

	// WHEN: The second payment is deleted
	rec := doJSON(t, router, http.MethodDelete,
		fmt.Sprintf("/api/rooms/%s/payments/%s", roomID, drop.Payment.ID), nil)

	// THEN: Balances match the first payment alone
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[PaymentResponse](t, rec)
	assert.Equal(t, balanceMap(keep.Balances), balanceMap(res.Balances))

	listRec := doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/payments", nil)
	payments := decode[[]PaymentDTO](t, listRec)
	require.Len(t, payments, 1)
	assert.Equal(t, keep.Payment.ID, payments[0].ID)
}

func TestDeletePayment_UnknownPayment404(t *testing.T) {
	router := newTestRouter(t)
	roomID := createRoom(t, router, "Trip")

	rec := doJSON(t, router, http.MethodDelete, "/api/rooms/"+roomID+"/payments/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// DERIVED VIEW TESTS
// =============================================================================

func TestGetSettlementPlan_SettlesRoom(t *testing.T) {
	router := newTestRouter(t)
	roomID := createRoom(t, router, "Weekend")
	recordPayment(t, router, roomID, evenSplit("alice", 110, "alice", "bob"))
	recordPayment(t, router, roomID, evenSplit("bob", 110, "bob", "carol"))

	rec := doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/settlement", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	transfers := decode[[]TransferDTO](t, rec)
	require.Len(t, transfers, 1)
	assert.Equal(t, "carol", transfers[0].Payer)
	assert.Equal(t, "alice", transfers[0].Recipient)
	assert.Equal(t, "55.00", transfers[0].Amount.StringFixed(2))
}

func TestGetBalances_EmptyRoom(t *testing.T) {
	router := newTestRouter(t)
	roomID := createRoom(t, router, "Empty")

	rec := doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/balances", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]BalanceDTO](t, rec))
}

// =============================================================================
// STATE TESTS
// =============================================================================

func TestStateExportImport_RoundTrip(t *testing.T) {
	// GIVEN: A room with history
	router := newTestRouter(t)
	src := createRoom(t, router, "Source")
	recordPayment(t, router, src, evenSplit("alice", 90, "alice", "bob", "carol"))

	exportRec := doJSON(t, router, http.MethodGet, "/api/rooms/"+src+"/state", nil)
	require.Equal(t, http.StatusOK, exportRec.Code)

	// WHEN: The state is imported into a fresh room
	dst := createRoom(t, router, "Destination")
	req := httptest.NewRequest(http.MethodPut, "/api/rooms/"+dst+"/state",
		bytes.NewReader(exportRec.Body.Bytes()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// THEN: Both rooms report the same balances
	srcBal := decode[[]BalanceDTO](t, doJSON(t, router, http.MethodGet, "/api/rooms/"+src+"/balances", nil))
	dstBal := decode[[]BalanceDTO](t, doJSON(t, router, http.MethodGet, "/api/rooms/"+dst+"/balances", nil))
	assert.Equal(t, balanceMap(srcBal), balanceMap(dstBal))
}

func TestImportState_RejectsBadBlob(t *testing.T) {
	router := newTestRouter(t)
	roomID := createRoom(t, router, "Room")

	req := httptest.NewRequest(http.MethodPut, "/api/rooms/"+roomID+"/state",
		bytes.NewReader([]byte(`{"alice": {"alice": "not-a-number"}}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsistency_DriftDetectedAndRebuilt(t *testing.T) {
	// GIVEN: A room whose cached state was overwritten with a bogus blob
	router := newTestRouter(t)
	roomID := createRoom(t, router, "Drifty")
	recordPayment(t, router, roomID, RecordPaymentRequest{
		Pledger: "alice",
		Splits:  []SplitDTO{{Debtor: "bob", Amount: dec(50)}},
	})

	req := httptest.NewRequest(http.MethodPut, "/api/rooms/"+roomID+"/state",
		bytes.NewReader([]byte(`{"alice": {"alice": "0"}, "bob": {"alice": "10", "bob": "-10"}}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// WHEN: Consistency is checked
	checkRec := doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/consistency", nil)

	// THEN: Drift is reported with 409
	require.Equal(t, http.StatusConflict, checkRec.Code)
	report := decode[ConsistencyDTO](t, checkRec)
	assert.False(t, report.Consistent)
	assert.NotEmpty(t, report.Detail)

	// WHEN: The state is rebuilt from the ledger
	rebuildRec := doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/rebuild", nil)
	require.Equal(t, http.StatusNoContent, rebuildRec.Code)

	// THEN: The room is consistent again
	checkRec = doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/consistency", nil)
	require.Equal(t, http.StatusOK, checkRec.Code)
	assert.True(t, decode[ConsistencyDTO](t, checkRec).Consistent)
}
