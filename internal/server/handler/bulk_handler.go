package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/chipfleet-control-plane/internal/lifecycle"
)

// BulkService — двухфазные массовые действия.
type BulkService interface {
	Propose(ctx context.Context, ids []string, action lifecycle.Action, operator string) (*lifecycle.Proposal, error)
	Execute(ctx context.Context, token, operator string) (*lifecycle.BulkResult, error)
}

type BulkHandler struct {
	service BulkService
}

func NewBulkHandler(s BulkService) *BulkHandler {
	return &BulkHandler{service: s}
}

type ProposeRequest struct {
	IDs    []string `json:"ids"`
	Action string   `json:"action"` // pause | resume | promote
}

func (h *BulkHandler) Propose(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireOperator(w, r)
	if !ok {
		return
	}

	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	p, err := h.service.Propose(r.Context(), req.IDs, lifecycle.Action(req.Action), operator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type ExecuteRequest struct {
	Token string `json:"token"`
}

func (h *BulkHandler) Execute(w http.ResponseWriter, r *http.Request) {
	operator, ok := requireOperator(w, r)
	if !ok {
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "confirmation token is required"})
		return
	}

	res, err := h.service.Execute(r.Context(), req.Token, operator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
