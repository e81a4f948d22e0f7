package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openbooks/ledgercore/src/config"
	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/models"
	"github.com/openbooks/ledgercore/src/parsers"
	"github.com/openbooks/ledgercore/src/services"
	"github.com/openbooks/ledgercore/src/utils"
)

type IngestionHandler struct {
	ingestionService services.IngestionService
}

func NewIngestionHandler(service services.IngestionService) *IngestionHandler {
	return &IngestionHandler{
		ingestionService: service,
	}
}

// HandleSubmitBatch accepts a JSON batch of transaction descriptors and runs
// it through the ingestion pipeline.
func (h *IngestionHandler) HandleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var batch services.IngestionBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if batch.Source == "" {
		utils.SendJSONError(w, "source is required", http.StatusBadRequest)
		return
	}
	if len(batch.Items) == 0 {
		utils.SendJSONError(w, "batch contains no items", http.StatusBadRequest)
		return
	}

	result, err := h.ingestionService.ProcessBatch(r.Context(), batch)
	if err != nil {
		if errors.Is(err, services.ErrBatchAborted) {
			logger.L.Warn("Batch aborted on first error", "source", batch.Source, "error", err)
			utils.SendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		logger.L.Error("Internal error processing batch", "source", batch.Source, "error", err)
		utils.SendJSONError(w, "An internal error occurred while processing the batch", http.StatusInternalServerError)
		return
	}

	subject, _ := GetSubjectFromContext(r.Context())
	logger.L.Info("Batch processed",
		"batchID", result.BatchID,
		"source", result.Source,
		"subject", subject,
		"succeeded", result.Succeeded,
		"duplicates", result.Duplicates,
		"failed", result.Failed)
	utils.SendJSON(w, http.StatusOK, result)
}

// HandleUploadStatement accepts a multipart statement file, parses it into
// descriptors, and runs them as one batch. The form carries the batch source
// and the file format.
func (h *IngestionHandler) HandleUploadStatement(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		logger.L.Warn("Failed to retrieve file from request", "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
		logger.L.Warn("Uploaded file too large", "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("File too large, max %d MB", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	source := strings.TrimSpace(r.FormValue("source"))
	if source == "" {
		utils.SendJSONError(w, "source form field is required", http.StatusBadRequest)
		return
	}
	format := strings.TrimSpace(r.FormValue("format"))
	if format == "" {
		format = "csv"
	}

	parser, err := parsers.GetParser(format)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	descriptors, err := parser.Parse(file)
	if err != nil {
		logger.L.Warn("Statement parsing failed", "source", source, "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Error parsing statement file: %v", err), http.StatusBadRequest)
		return
	}
	if len(descriptors) == 0 {
		utils.SendJSONError(w, "Statement file contains no usable rows", http.StatusBadRequest)
		return
	}

	batch := services.IngestionBatch{
		Source:           source,
		FailOnFirstError: r.FormValue("fail_on_first_error") == "true",
		Items:            descriptors,
	}

	logger.L.Info("Processing statement upload", "source", source, "filename", fileHeader.Filename, "items", len(batch.Items))
	result, err := h.ingestionService.ProcessBatch(r.Context(), batch)
	if err != nil {
		if errors.Is(err, services.ErrBatchAborted) {
			utils.SendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		logger.L.Error("Internal error processing uploaded statement", "source", source, "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, "An internal error occurred while processing the file. Please try again later.", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, http.StatusOK, result)
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

func (h *IngestionHandler) HandleReverseTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := r.PathValue("id")
	var req reverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	reversal, err := h.ingestionService.ReverseTransaction(r.Context(), transactionID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTransactionNotFound):
			utils.SendJSONError(w, fmt.Sprintf("Transaction %s not found", transactionID), http.StatusNotFound)
		case errors.Is(err, models.ErrInvalidStateTransition):
			utils.SendJSONError(w, fmt.Sprintf("Transaction cannot be reversed: %v", err), http.StatusUnprocessableEntity)
		default:
			logger.L.Error("Error reversing transaction", "transactionID", transactionID, "error", err)
			utils.SendJSONError(w, "An internal error occurred while reversing the transaction", http.StatusInternalServerError)
		}
		return
	}

	subject, _ := GetSubjectFromContext(r.Context())
	logger.L.Info("Transaction reversed", "transactionID", transactionID, "reversalID", reversal.ID, "subject", subject)
	utils.SendJSON(w, http.StatusCreated, reversal)
}
