package handler

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/noatgnu/UniprotWebParser/internal/api/dto"
	"github.com/noatgnu/UniprotWebParser/internal/idmapping"
	mapping "github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"github.com/noatgnu/UniprotWebParser/internal/journal"
	"github.com/noatgnu/UniprotWebParser/internal/output"
)

// CreateMapping handles POST /api/v1/mappings
// Resolves the identifiers synchronously and returns the merged payload
// together with the batches that failed.
func (h *MappingHandler) CreateMapping(c *gin.Context) {
	var req dto.CreateMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if h.maxIdentifiers > 0 && len(req.IDs) > h.maxIdentifiers {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "too many identifiers",
			"limit": h.maxIdentifiers,
		})
		return
	}

	sel := h.defaults
	if req.From != "" {
		sel.From = req.From
	}
	if req.To != "" {
		sel.To = req.To
	}

	format := req.Format
	if format == "" {
		format = h.defaultFormat
	}
	resolver, ok := h.resolvers[format]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unsupported format: " + format,
		})
		return
	}

	size := h.batchSize
	if req.BatchSize > 0 && req.BatchSize < size {
		size = req.BatchSize
	}

	batches, err := idmapping.Plan(req.IDs, size)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The HTTP correlation id doubles as the run id in the journal
	requestID := c.GetString("request_id")
	if _, err := uuid.Parse(requestID); err != nil {
		requestID = uuid.NewString()
	}
	logger := h.logger.With(slog.String("request_id", requestID))

	opts := []idmapping.Option{idmapping.WithLogger(logger), idmapping.WithValidator(h.catalog)}
	if h.recorder != nil {
		opts = append(opts, idmapping.WithRecorder(h.recorder))
	}
	orch := idmapping.NewOrchestrator(resolver, h.strategy, opts...)

	seq, err := orch.RunAs(c.Request.Context(), requestID, batches, sel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := make([]mapping.Result, 0, len(batches))
	for res := range seq {
		results = append(results, res)
	}
	// Concurrent runs complete out of order
	slices.SortFunc(results, func(a, b mapping.Result) int { return a.Batch.Index - b.Batch.Index })

	var buf bytes.Buffer
	merger, err := output.NewMerger(&buf, format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := dto.CreateMappingResponse{
		RequestID: requestID,
		From:      sel.From,
		To:        sel.To,
		Format:    format,
		Batches:   len(batches),
		Failures:  []dto.BatchFailureDTO{},
	}
	for _, res := range results {
		if res.Err != nil {
			resp.Failures = append(resp.Failures, newBatchFailure(res))
			continue
		}
		if err := merger.Write(res.Payload); err != nil {
			logger.Error("Failed to merge batch payload", slog.Int("batch", res.Batch.Index), slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to merge results"})
			return
		}
	}
	if err := merger.Flush(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to merge results"})
		return
	}
	resp.Records = merger.Records()
	resp.Data = buf.String()

	status := http.StatusOK
	if len(resp.Failures) == len(batches) {
		status = http.StatusBadGateway
	}

	logger.Info("Mapping request served",
		slog.Int("batches", len(batches)),
		slog.Int("failed", len(resp.Failures)),
		slog.Int("records", resp.Records),
	)

	c.JSON(status, resp)
}

// GetMapping handles GET /api/v1/mappings/:request_id
// Returns the journal entries recorded for a previous request
func (h *MappingHandler) GetMapping(c *gin.Context) {
	requestID := c.Param("request_id")

	if _, err := uuid.Parse(requestID); err != nil {
		h.logger.Error("Invalid request_id format", slog.String("request_id", requestID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "request_id must be a valid UUID",
		})
		return
	}

	if h.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "mapping journal is disabled",
		})
		return
	}

	entries, err := h.runs.Run(c.Request.Context(), requestID)
	if errors.Is(err, journal.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "mapping request not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read mapping journal", slog.String("request_id", requestID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read mapping journal",
		})
		return
	}

	c.JSON(http.StatusOK, dto.MappingRunResponse{
		RequestID: requestID,
		Batches:   entries,
	})
}

func newBatchFailure(res mapping.Result) dto.BatchFailureDTO {
	f := dto.BatchFailureDTO{
		Batch:    res.Batch.Index,
		IDs:      res.Batch.IDs,
		Error:    res.Err.Error(),
		NotFound: errors.Is(res.Err, mapping.ErrJobNotFound),
	}
	var batchErr *mapping.BatchError
	if errors.As(res.Err, &batchErr) {
		f.JobID = batchErr.JobID
	}
	return f
}
