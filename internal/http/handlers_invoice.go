package http

import (
	"encoding/json"
	"net/http"

	"jobdesk/internal/core"
	"jobdesk/internal/invoice"
)

type addChargeRequest struct {
	Description string          `json:"description"`
	Amount      json.RawMessage `json:"amount"`
}

type addChargeResponse struct {
	Charge  core.ChargeLineItem `json:"charge"`
	Invoice invoice.Snapshot    `json:"invoice"`
}

type setPaidRequest struct {
	Paid *bool `json:"paid"`
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.invoices.Open(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAddCharge(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req addChargeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	item, snap, err := s.invoices.AddCharge(r.Context(), id, sanitizeInput(req.Description), amountText(req.Amount))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, addChargeResponse{Charge: item, Invoice: snap})
}

func (s *Server) handleRemoveCharge(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.invoices.RemoveCharge(r.Context(), id, r.PathValue("chargeID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSetPaid(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req setPaidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Paid == nil {
		writeError(w, http.StatusBadRequest, "paid is required")
		return
	}
	snap, err := s.invoices.SetPaid(r.Context(), id, *req.Paid)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSubmitInvoice commits the job's session. On a backend failure the
// charges stay in the session and the client may retry.
func (s *Server) handleSubmitInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := s.invoices.Submit(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleDiscardInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.invoices.Discard(id)
	_ = NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
