package main

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"crossledger/core/state"
	"crossledger/native/auction"
	"crossledger/native/credit"
	"crossledger/native/desk"
	"crossledger/native/loans"
	"crossledger/native/pool"
)

// api serves read-only views over the ledger records. Mutations go through
// the facade engines in-process; the HTTP surface only exposes lookups.
type api struct {
	manager *state.Manager
	poolID  string
	ledger  *pool.Engine
	loans   *loans.Engine
	desk    *desk.Engine
	credit  *credit.Engine
	auction *auction.Engine
	logger  *slog.Logger
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/pool", a.handlePool)
	mux.HandleFunc("/v1/position", a.handlePosition)
	mux.HandleFunc("/v1/loans/offer", a.handleOffer)
	mux.HandleFunc("/v1/loans/loan", a.handleLoan)
	mux.HandleFunc("/v1/desk/ticket", a.handleTicket)
	mux.HandleFunc("/v1/credit/line", a.handleLine)
	mux.HandleFunc("/v1/auction", a.handleAuction)
}

func (a *api) handlePool(w http.ResponseWriter, r *http.Request) {
	p, err := a.manager.GetPool(a.poolID)
	if err != nil {
		a.fail(w, err)
		return
	}
	if p == nil {
		http.NotFound(w, r)
		return
	}
	a.respond(w, map[string]any{
		"id":                            a.poolID,
		"total_deposits":                p.TotalDeposits.String(),
		"tracked_balance":               p.TrackedBalance.String(),
		"yield_reserve":                 p.YieldReserve.String(),
		"fee_index":                     p.FeeIndex.String(),
		"active_credit_index":           p.ActiveCreditIndex.String(),
		"active_credit_principal_total": p.ActiveCreditPrincipalTotal.String(),
		"depositor_ltv_bps":             p.DepositorLTVBps,
	})
}

func (a *api) handlePosition(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(w, r)
	if !ok {
		return
	}
	position, err := a.manager.GetPosition(a.poolID, key)
	if err != nil {
		a.fail(w, err)
		return
	}
	if position == nil {
		http.NotFound(w, r)
		return
	}
	now := uint64(time.Now().Unix())
	a.respond(w, map[string]any{
		"key":                 hex.EncodeToString(position.Key[:]),
		"principal":           position.Principal.String(),
		"accrued_yield":       position.AccruedYield.String(),
		"direct_locked":       position.Encumbrance.DirectLocked.String(),
		"direct_lent":         position.Encumbrance.DirectLent.String(),
		"direct_offer_escrow": position.Encumbrance.DirectOfferEscrow.String(),
		"auction_reserve":     position.Encumbrance.AuctionReserve.String(),
		"matured_weight":      a.ledger.MaturedWeight(position.EncumbranceTrack, now).String(),
		"matured_debt_weight": a.ledger.MaturedWeight(position.DebtTrack, now).String(),
	})
}

func (a *api) handleOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	offer, err := a.loans.Offer(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	a.respond(w, map[string]any{
		"id":         hex.EncodeToString(offer.ID[:]),
		"lender":     hex.EncodeToString(offer.Lender[:]),
		"amount":     offer.Amount.String(),
		"created_at": offer.CreatedAt,
	})
}

func (a *api) handleLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	loan, err := a.loans.Loan(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	a.respond(w, map[string]any{
		"id":         hex.EncodeToString(loan.ID[:]),
		"lender":     hex.EncodeToString(loan.Lender[:]),
		"borrower":   hex.EncodeToString(loan.Borrower[:]),
		"principal":  loan.Principal.String(),
		"collateral": loan.Collateral.String(),
		"started_at": loan.StartedAt,
	})
}

func (a *api) handleTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	ticket, err := a.desk.Ticket(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	a.respond(w, map[string]any{
		"id":         hex.EncodeToString(ticket.ID[:]),
		"lender":     hex.EncodeToString(ticket.Lender[:]),
		"taker":      hex.EncodeToString(ticket.Taker[:]),
		"amount":     ticket.Amount.String(),
		"created_at": ticket.CreatedAt,
	})
}

func (a *api) handleLine(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(w, r)
	if !ok {
		return
	}
	line, err := a.credit.Line(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	a.respond(w, map[string]any{
		"key":        hex.EncodeToString(line.Key[:]),
		"drawn":      line.Drawn.String(),
		"collateral": line.Collateral.String(),
		"opened_at":  line.OpenedAt,
	})
}

func (a *api) handleAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	record, err := a.auction.Auction(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	a.respond(w, map[string]any{
		"id":         hex.EncodeToString(record.ID[:]),
		"seller":     hex.EncodeToString(record.Seller[:]),
		"amount":     record.Amount.String(),
		"created_at": record.CreatedAt,
	})
}

func parseKey(w http.ResponseWriter, r *http.Request) (pool.PositionKey, bool) {
	var key pool.PositionKey
	raw := strings.TrimSpace(r.URL.Query().Get("key"))
	decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil || len(decoded) != 32 {
		http.Error(w, "key must be 32 hex bytes", http.StatusBadRequest)
		return key, false
	}
	copy(key[:], decoded)
	return key, true
}

func parseID(w http.ResponseWriter, r *http.Request) ([32]byte, bool) {
	var id [32]byte
	raw := strings.TrimSpace(r.URL.Query().Get("id"))
	decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil || len(decoded) != 32 {
		http.Error(w, "id must be 32 hex bytes", http.StatusBadRequest)
		return id, false
	}
	copy(id[:], decoded)
	return id, true
}

func (a *api) respond(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("Failed to encode response", slog.Any("error", err))
	}
}

func (a *api) fail(w http.ResponseWriter, err error) {
	a.logger.Error("Request failed", slog.Any("error", err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}
