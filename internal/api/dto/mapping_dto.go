package dto

import (
	"github.com/noatgnu/UniprotWebParser/internal/fields"
	mapping "github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"github.com/noatgnu/UniprotWebParser/internal/journal"
)

type ParseAccessionsRequest struct {
	Inputs []string `json:"inputs" binding:"required"`
}

type ParseAccessionsResponse struct {
	Accessions []AccessionDTO `json:"accessions"`
}

type AccessionDTO struct {
	Raw       string `json:"raw"`
	Accession string `json:"accession,omitempty"`
	Isoform   string `json:"isoform,omitempty"`
	Matched   bool   `json:"matched"`
}

type FieldsResponse struct {
	Defaults mapping.Selection `json:"defaults"`
	Columns  []string          `json:"columns"`
	Groups   []fields.Group    `json:"groups"`
}

type CreateMappingRequest struct {
	IDs       []string `json:"ids" binding:"required,min=1"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Format    string   `json:"format"`
	BatchSize int      `json:"batch_size" binding:"omitempty,min=1"`
}

type CreateMappingResponse struct {
	RequestID string            `json:"request_id"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Format    string            `json:"format"`
	Batches   int               `json:"batches"`
	Records   int               `json:"records"`
	Data      string            `json:"data"`
	Failures  []BatchFailureDTO `json:"failures"`
}

type BatchFailureDTO struct {
	Batch    int      `json:"batch"`
	JobID    string   `json:"job_id,omitempty"`
	IDs      []string `json:"ids"`
	Error    string   `json:"error"`
	NotFound bool     `json:"not_found"`
}

type MappingRunResponse struct {
	RequestID string          `json:"request_id"`
	Batches   []journal.Entry `json:"batches"`
}
