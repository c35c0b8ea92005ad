package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dvloznov/finance-capture/internal/api/middleware"
	"github.com/dvloznov/finance-capture/internal/capture"
	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/extraction"
	"github.com/dvloznov/finance-capture/internal/logger"
)

// maxBodyBytes leaves room for a data: URL of the largest accepted media.
const maxBodyBytes = 36 << 20

// CaptureService is what the extraction endpoints need from capture.Service.
type CaptureService interface {
	Extract(ctx context.Context, req capture.Request) (*extraction.Response, error)
	Capture(ctx context.Context, req capture.Request) (*capture.Result, error)
	Categories() []domain.Category
}

// captureBody is the JSON body of POST /api/extract/{modality} and POST /api/jobs.
type captureBody struct {
	Modality    domain.Modality `json:"modality,omitempty"`
	Input       string          `json:"input"`
	Language    string          `json:"language,omitempty"`
	Save        bool            `json:"save,omitempty"`
	HouseholdID string          `json:"household_id,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// ExtractHandler serves synchronous extraction.
type ExtractHandler struct {
	svc CaptureService
}

// NewExtractHandler creates a new extract handler.
func NewExtractHandler(svc CaptureService) *ExtractHandler {
	return &ExtractHandler{svc: svc}
}

type extractResponse struct {
	Result      domain.ExtractionResult `json:"result"`
	Transcript  string                  `json:"transcript,omitempty"`
	Transaction *domain.Transaction     `json:"transaction,omitempty"`
}

// Extract handles POST /api/extract/{modality}
func (h *ExtractHandler) Extract(w http.ResponseWriter, r *http.Request) {
	modality := domain.Modality(r.PathValue("modality"))
	if !modality.Valid() {
		middleware.WriteError(w, http.StatusNotFound, "Unknown modality")
		return
	}

	var body captureBody
	if !decodeBody(w, r, &body) {
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)
	req := capture.Request{
		Modality:    modality,
		Input:       body.Input,
		Language:    body.Language,
		HouseholdID: body.HouseholdID,
		UserID:      body.UserID,
	}

	if body.Save {
		res, err := h.svc.Capture(ctx, req)
		if err != nil {
			log.Warn().Err(err).Str("modality", string(modality)).Msg("Capture failed")
			writeExtractionError(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, extractResponse{
			Result:      res.Extraction,
			Transaction: res.Transaction,
		})
		return
	}

	resp, err := h.svc.Extract(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("modality", string(modality)).Msg("Extraction failed")
		writeExtractionError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, extractResponse{
		Result:     resp.Result,
		Transcript: resp.Transcript,
	})
}

// ListCategories handles GET /api/categories
func (h *ExtractHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories := h.svc.Categories()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
		"count":      len(categories),
	})
}
