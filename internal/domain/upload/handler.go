package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mirrorsplit/internal/metrics"
	"mirrorsplit/internal/pkg/response"
	"mirrorsplit/internal/pkg/validator"
)

// Handler handles HTTP requests for audio uploads and their metadata.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// flexString accepts a JSON string, number or null.
type flexString struct {
	Set   bool
	Value string
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	f.Set = true
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		f.Value = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &f.Value)
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	f.Value = n.String()
	return nil
}

func (f flexString) ptr() *string {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

type patchRequest struct {
	Title   flexString `json:"title"`
	Artist  flexString `json:"artist"`
	Price   flexString `json:"price"`
	Section flexString `json:"section"`
}

type trackRequest struct {
	ID   string `json:"id" validate:"required"`
	Type string `json:"type" validate:"omitempty,oneof=view play"`
}

type recoverRequest struct {
	ID          string     `json:"id" validate:"required"`
	Title       string     `json:"title"`
	Artist      string     `json:"artist"`
	Price       flexString `json:"price"`
	Section     string     `json:"section"`
	FilePath    string     `json:"file_path"`
	FilePathAlt string     `json:"filePath"`
	URL         string     `json:"url"`
	CreatedAt   *time.Time `json:"created_at"`
}

type dashboardStat struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// Upload godoc
// @Summary Upload an audio track
// @Description Stores the binary, then its metadata. Metadata failures fall back to the local ledger with a warning.
// @Tags Uploads
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Audio file"
// @Param title formData string false "Title"
// @Param artist formData string false "Artist"
// @Param price formData string false "Price"
// @Param section formData string false "Section"
// @Param id formData string false "Upload id, when resubmitting"
// @Success 200 {object} map[string]interface{}
// @Failure 400,500,503 {object} map[string]interface{}
// @Router /uploads [post]
func (h *Handler) Upload(c *gin.Context) {
	req, err := h.service.Policy().ParseRequest(c.Writer, c.Request)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(metrics.ResultRejected).Inc()
		h.respondFail(c, err, "Upload failed")
		return
	}

	// The workflow finishes even if the client goes away mid-request.
	res, err := h.service.Upload(context.WithoutCancel(c.Request.Context()), req)
	if err != nil {
		h.respondFail(c, err, "Upload failed")
		return
	}

	body := gin.H{"item": res.Record}
	if res.Warning != "" {
		body["warning"] = res.Warning
		body["metadataError"] = res.MetadataError
		body["suggestion"] = FallbackSuggestion
	}
	response.OK(c, http.StatusOK, body)
}

// List godoc
// @Summary List uploads
// @Tags Uploads
// @Produce json
// @Param section query string false "Section filter"
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /uploads [get]
func (h *Handler) List(c *gin.Context) {
	items, err := h.service.List(c.Request.Context(), c.Query("section"))
	if err != nil {
		h.respondError(c, err, "Failed to list uploads")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(items)})
}

// Recent godoc
// @Summary Most recent uploads
// @Tags Uploads
// @Produce json
// @Param limit query int false "Maximum items (default 10)"
// @Success 200 {object} map[string]interface{}
// @Router /uploads/recent [get]
func (h *Handler) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.service.Recent(c.Request.Context(), limit)
	if err != nil {
		h.respondFail(c, err, "Failed to load recent uploads")
		return
	}
	response.OK(c, http.StatusOK, gin.H{"items": nonNil(items), "count": len(items)})
}

// Search godoc
// @Summary Full-text search over title, artist and section
// @Tags Uploads
// @Produce json
// @Param q query string true "Query"
// @Param limit query int false "Maximum items"
// @Success 200 {object} map[string]interface{}
// @Failure 400,503 {object} map[string]interface{}
// @Router /uploads/search [get]
func (h *Handler) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		response.Fail(c, http.StatusBadRequest, "Query parameter q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.service.Search(c.Request.Context(), q, limit)
	if err != nil {
		h.respondFail(c, err, "Search failed")
		return
	}
	response.OK(c, http.StatusOK, gin.H{"items": nonNil(items), "count": len(items)})
}

// GetByID godoc
// @Summary Get upload metadata by ID
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /uploads/{id} [get]
func (h *Handler) GetByID(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to load upload")
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": rec})
}

// Update godoc
// @Summary Update title, artist, price or section
// @Tags Uploads
// @Accept json
// @Produce json
// @Param id path string true "Upload ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400,404,500,503 {object} map[string]interface{}
// @Router /uploads/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	rec, err := h.service.UpdateMetadata(c.Request.Context(), c.Param("id"), Patch{
		Title:   req.Title.ptr(),
		Artist:  req.Artist.ptr(),
		Price:   req.Price.ptr(),
		Section: req.Section.ptr(),
	})
	if err != nil {
		h.respondError(c, err, "Update failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": rec})
}

// Delete godoc
// @Summary Delete an upload (record + binary)
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID"
// @Success 200 {object} map[string]interface{}
// @Failure 500,503 {object} map[string]interface{}
// @Router /uploads/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.DeleteMetadata(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "Delete failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// TrackEvent godoc
// @Summary Record a view or play
// @Tags Uploads
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400,404 {object} map[string]interface{}
// @Router /uploads/track-view [post]
func (h *Handler) TrackEvent(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "Invalid JSON body", nil)
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.Fail(c, http.StatusBadRequest, "Invalid request", gin.H{"fields": errs})
		return
	}

	kind, _ := NormalizeEvent(req.Type)
	tracked, err := h.service.TrackEvent(c.Request.Context(), req.ID, kind)
	if err != nil {
		h.respondFail(c, err, "Failed to track event")
		return
	}
	body := gin.H{"type": kind, "id": req.ID}
	if !tracked {
		body["message"] = "Tracking not available"
	}
	response.OK(c, http.StatusOK, body)
}

// EventStats godoc
// @Summary View and play counters of one upload
// @Tags Uploads
// @Produce json
// @Param id query string true "Upload ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400,404 {object} map[string]interface{}
// @Router /uploads/track-view [get]
func (h *Handler) EventStats(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		response.Fail(c, http.StatusBadRequest, ErrMissingID.Error(), nil)
		return
	}
	views, plays, err := h.service.Stats(c.Request.Context(), id)
	if err != nil {
		h.respondFail(c, err, "Failed to load stats")
		return
	}
	response.OK(c, http.StatusOK, gin.H{"id": id, "views": views, "plays": plays})
}

// RecoverMetadata godoc
// @Summary Backfill metadata for an orphaned binary
// @Tags Recovery
// @Accept json
// @Produce json
// @Security AdminToken
// @Success 200 {object} map[string]interface{}
// @Failure 400,500,503 {object} map[string]interface{}
// @Router /recover-metadata [post]
func (h *Handler) RecoverMetadata(c *gin.Context) {
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "Invalid JSON body", nil)
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.Fail(c, http.StatusBadRequest, "Invalid request", gin.H{"fields": errs})
		return
	}

	filePath := req.FilePath
	if filePath == "" {
		filePath = req.FilePathAlt
	}
	rec, err := h.service.RecoverMetadata(c.Request.Context(), RecoverInput{
		ID:        req.ID,
		Title:     req.Title,
		Artist:    req.Artist,
		Price:     req.Price.Value,
		Section:   req.Section,
		FilePath:  filePath,
		URL:       req.URL,
		CreatedAt: req.CreatedAt,
	})
	if err != nil {
		h.respondFail(c, err, "Recovery failed")
		return
	}
	response.OK(c, http.StatusOK, gin.H{"item": rec})
}

// ListOrphans godoc
// @Summary List stored binaries without metadata
// @Tags Recovery
// @Produce json
// @Security AdminToken
// @Success 200 {object} map[string]interface{}
// @Failure 500,503 {object} map[string]interface{}
// @Router /recover-metadata [get]
func (h *Handler) ListOrphans(c *gin.Context) {
	orphans, err := h.service.FindOrphans(c.Request.Context())
	if err != nil {
		h.respondFail(c, err, "Failed to list orphaned files")
		return
	}
	response.OK(c, http.StatusOK, gin.H{"orphanedFiles": orphans, "count": len(orphans)})
}

// DashboardStats godoc
// @Summary Upload counts for the dashboard
// @Tags Dashboard
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /dashboard/stats [get]
func (h *Handler) DashboardStats(c *gin.Context) {
	counts, err := h.service.SectionStats(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to load stats")
		return
	}

	var total int64
	stats := make([]dashboardStat, 0, len(counts)+1)
	for _, sc := range counts {
		total += sc.Count
		stats = append(stats, dashboardStat{ID: sc.Section, Label: sectionLabel(sc.Section), Value: sc.Count})
	}
	stats = append([]dashboardStat{{ID: "total", Label: "Total uploads", Value: total}}, stats...)
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// respondFail writes the {"ok": false, ...} envelope.
func (h *Handler) respondFail(c *gin.Context, err error, fallback string) {
	_ = c.Error(err)

	var perr *MetadataPersistError
	if errors.As(err, &perr) {
		response.Fail(c, http.StatusInternalServerError, "Metadata save failed", gin.H{
			"details": perr.Message,
			"code":    perr.Code,
			"hint":    perr.Hint,
		})
		return
	}
	status, message := classify(err, fallback)
	response.Fail(c, status, message, nil)
}

// respondError writes the bare {"error": ...} envelope.
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	_ = c.Error(err)
	status, message := classify(err, fallback)
	response.Error(c, status, message)
}

func classify(err error, fallback string) (int, string) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, ErrNoFieldsToUpdate):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrUploadNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable, "Metadata store not configured"
	case errors.Is(err, ErrSearchUnavailable):
		return http.StatusServiceUnavailable, "Search not available"
	case errors.As(err, new(*MetadataPersistError)):
		return http.StatusInternalServerError, "Metadata save failed"
	default:
		return http.StatusInternalServerError, fallback
	}
}

func sectionLabel(section string) string {
	words := strings.Fields(strings.ReplaceAll(section, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func nonNil(items []*Record) []*Record {
	if items == nil {
		return []*Record{}
	}
	return items
}
