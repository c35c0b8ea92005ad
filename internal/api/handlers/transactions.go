package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/finance-capture/internal/api/middleware"
	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/store"
	"github.com/rs/zerolog"
)

// TransactionsHandler handles transaction and extraction-run endpoints.
type TransactionsHandler struct {
	repo store.Repository
	log  zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(repo store.Repository, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		repo: repo,
		log:  log,
	}
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.TransactionFilter{
		HouseholdID: query.Get("household_id"),
		Type:        domain.TransactionType(query.Get("type")),
	}

	if filter.Type != "" && !filter.Type.Valid() {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid type")
		return
	}

	var err error
	if s := query.Get("from"); s != "" {
		if filter.From, err = domain.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid from date")
			return
		}
	}
	if s := query.Get("to"); s != "" {
		if filter.To, err = domain.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid to date")
			return
		}
		// A bare date covers the whole day.
		if len(s) == len(time.DateOnly) {
			filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
		}
	}
	if s := query.Get("limit"); s != "" {
		if filter.Limit, err = strconv.Atoi(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
	}

	transactions, err := h.repo.ListTransactions(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetTransaction handles GET /api/transactions/{id}
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	tx, err := h.repo.GetTransaction(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("transaction_id", id).Msg("Failed to get transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get transaction")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}

// ListRuns handles GET /api/runs
func (h *TransactionsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := h.repo.ListExtractionRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list extraction runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list extraction runs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}
