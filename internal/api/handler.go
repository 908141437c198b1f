package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/mtlprog/seasonal/internal/asset"
	"github.com/mtlprog/seasonal/internal/domain"
	"github.com/mtlprog/seasonal/internal/export"
	"github.com/mtlprog/seasonal/internal/seasonal"
	"github.com/mtlprog/seasonal/internal/workbook"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler provides HTTP endpoints for the seasonal API.
type Handler struct {
	assets         *asset.Service
	validate       *validator.Validate
	maxUploadBytes int64
}

// NewHandler creates a new API handler.
func NewHandler(assets *asset.Service, maxUploadBytes int64) *Handler {
	return &Handler{assets: assets, validate: newValidator(), maxUploadBytes: maxUploadBytes}
}

// processResult is returned by endpoints that derive a history.
type processResult struct {
	Summary seasonal.Summary        `json:"summary"`
	Records []domain.EnrichedRecord `json:"records"`
}

// ListAssets handles GET /api/v1/assets.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.assets.Assets(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "failed to list assets")
		return
	}
	writeJSON(w, http.StatusOK, lo.Ternary(assets == nil, []string{}, assets))
}

// GetStats handles GET /api/v1/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.assets.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Process handles POST /api/v1/process. It accepts a JSON body or a
// multipart spreadsheet upload and returns the derived history without storing it.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	records, policy, ok := h.readRecords(w, r)
	if !ok {
		return
	}
	derived, err := h.assets.Process(records, policy)
	if err != nil {
		h.writeServiceError(w, err, "failed to process records")
		return
	}
	writeJSON(w, http.StatusOK, processResult{Summary: seasonal.Summarize(derived), Records: derived})
}

// GetAsset handles GET /api/v1/assets/{asset}?sort=.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	rows, err := h.assets.Rows(r.Context(), r.PathValue("asset"))
	if err != nil {
		h.writeServiceError(w, err, "failed to read asset")
		return
	}

	rows = append([]asset.Row(nil), rows...)
	order := r.URL.Query().Get("sort")
	if err := seasonal.SortRecords(rows, order, func(row asset.Row) domain.EnrichedRecord { return row.EnrichedRecord }); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// DeleteAsset handles DELETE /api/v1/assets/{asset}.
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("asset")
	if err := h.assets.DeleteAsset(r.Context(), name); err != nil {
		h.writeServiceError(w, err, "failed to delete asset")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

// GetDateRange handles GET /api/v1/assets/{asset}/range.
func (h *Handler) GetDateRange(w http.ResponseWriter, r *http.Request) {
	dr, err := h.assets.DateRange(r.Context(), r.PathValue("asset"))
	if err != nil {
		h.writeServiceError(w, err, "failed to read date range")
		return
	}
	writeJSON(w, http.StatusOK, dr)
}

// GetProfile handles GET /api/v1/assets/{asset}/profile?year=&field=.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	if field == "" {
		field = domain.ColTrueSeasonal
	}
	if !lo.Contains(seasonal.ProfileFields, field) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported field %q", field))
		return
	}

	year := 0
	if y := r.URL.Query().Get("year"); y != "" {
		n, err := strconv.Atoi(y)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		year = n
	}

	points, year, err := h.assets.Profile(r.Context(), r.PathValue("asset"), year, field)
	if err != nil {
		h.writeServiceError(w, err, "failed to build profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"year": year, "field": field, "points": points})
}

// ExportAsset handles GET /api/v1/assets/{asset}/export and streams an .xlsx workbook.
func (h *Handler) ExportAsset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("asset")
	var buf bytes.Buffer
	if err := export.NewService(h.assets, export.NewXLSXWriter(&buf)).ExportAsset(r.Context(), name); err != nil {
		h.writeServiceError(w, err, "failed to export asset")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": name + "_processed.xlsx",
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("failed to write export body", "asset", name, "error", err)
	}
}

// Upload handles POST /api/v1/assets/{asset}/upload. The derived rows are
// appended to the asset unless the replace form flag is set.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	records, policy, ok := h.readRecords(w, r)
	if !ok {
		return
	}
	replace, _ := strconv.ParseBool(r.FormValue("replace"))

	derived, err := h.assets.Upload(r.Context(), r.PathValue("asset"), records, policy, replace)
	if err != nil {
		h.writeServiceError(w, err, "failed to upload asset")
		return
	}
	writeJSON(w, http.StatusCreated, processResult{Summary: seasonal.Summarize(derived), Records: derived})
}

// AddRow handles POST /api/v1/assets/{asset}/rows.
func (h *Handler) AddRow(w http.ResponseWriter, r *http.Request) {
	var req rowRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	name := r.PathValue("asset")
	if _, err := h.assets.AddRow(r.Context(), name, req.record()); err != nil {
		h.writeServiceError(w, err, "failed to add row")
		return
	}
	h.writeRows(w, r, name, http.StatusCreated)
}

// UpdateRow handles PUT /api/v1/assets/{asset}/rows/{id}.
func (h *Handler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	id, ok := rowID(w, r)
	if !ok {
		return
	}
	var req rowPatch
	if !h.decodeJSON(w, r, &req) {
		return
	}
	fields := req.fields()
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	name := r.PathValue("asset")
	if _, err := h.assets.UpdateRow(r.Context(), name, id, fields); err != nil {
		h.writeServiceError(w, err, "failed to update row")
		return
	}
	h.writeRows(w, r, name, http.StatusOK)
}

// DeleteRow handles DELETE /api/v1/assets/{asset}/rows/{id}.
func (h *Handler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	id, ok := rowID(w, r)
	if !ok {
		return
	}
	name := r.PathValue("asset")
	derived, err := h.assets.DeleteRow(r.Context(), name, id)
	if err != nil {
		h.writeServiceError(w, err, "failed to delete row")
		return
	}
	if len(derived) == 0 {
		writeJSON(w, http.StatusOK, []asset.Row{})
		return
	}
	h.writeRows(w, r, name, http.StatusOK)
}

// Reset handles POST /api/v1/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.assets.Reset(r.Context()); err != nil {
		h.writeServiceError(w, err, "failed to reset data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// writeRows answers with the freshly stored rows of an asset after an edit.
func (h *Handler) writeRows(w http.ResponseWriter, r *http.Request, name string, status int) {
	rows, err := h.assets.Rows(r.Context(), name)
	if err != nil {
		h.writeServiceError(w, err, "failed to read asset")
		return
	}
	writeJSON(w, status, rows)
}

// readRecords reads records and the missing-value policy from a multipart
// spreadsheet upload (field "file") or a JSON processRequest body.
func (h *Handler) readRecords(w http.ResponseWriter, r *http.Request) ([]domain.PriceRecord, domain.MissingPolicy, bool) {
	policy := h.assets.Policy()
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		var req processRequest
		if !h.decodeJSON(w, r, &req) {
			return nil, policy, false
		}
		if req.ReplaceMissing != nil {
			policy = domain.PolicyFor(*req.ReplaceMissing)
		}
		return req.Records, policy, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeUploadError(w, err)
		return nil, policy, false
	}
	if v := r.FormValue("replaceMissing"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid replaceMissing flag")
			return nil, policy, false
		}
		policy = domain.PolicyFor(b)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return nil, policy, false
	}
	defer file.Close()

	records, err := workbook.Read(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable spreadsheet")
		return nil, policy, false
	}
	return records, policy, true
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "empty request body")
			return false
		}
		writeUploadError(w, err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

func rowID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid row id")
		return 0, false
	}
	return id, true
}

// writeServiceError maps service errors to HTTP statuses. Unexpected errors are logged and hidden.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, asset.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrMissingColumns),
		errors.Is(err, asset.ErrInvalidRow),
		errors.Is(err, asset.ErrInvalidAsset):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
