package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/noatgnu/UniprotWebParser/internal/accession"
	"github.com/noatgnu/UniprotWebParser/internal/api/dto"
)

// ListFields handles GET /api/v1/fields
// Returns the databases usable as mapping sources and targets
func (h *MappingHandler) ListFields(c *gin.Context) {
	c.JSON(http.StatusOK, dto.FieldsResponse{
		Defaults: h.defaults,
		Columns:  h.catalog.DefaultColumns(),
		Groups:   h.catalog.Groups(),
	})
}

// ParseAccessions handles POST /api/v1/accessions/parse
// Extracts UniProt accessions from free-form identifiers or FASTA headers
func (h *MappingHandler) ParseAccessions(c *gin.Context) {
	var req dto.ParseAccessionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	resp := dto.ParseAccessionsResponse{Accessions: make([]dto.AccessionDTO, len(req.Inputs))}
	for i, in := range req.Inputs {
		m := accession.ParseHeader(in)
		resp.Accessions[i] = dto.AccessionDTO{
			Raw:       m.Raw(),
			Accession: m.Accession(),
			Isoform:   m.Isoform(),
			Matched:   m.OK(),
		}
	}

	c.JSON(http.StatusOK, resp)
}
