package handler

import (
	"context"
	"log/slog"

	"github.com/noatgnu/UniprotWebParser/internal/fields"
	"github.com/noatgnu/UniprotWebParser/internal/idmapping"
	mapping "github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"github.com/noatgnu/UniprotWebParser/internal/journal"
)

// RunReader looks up the recorded batches of a mapping run
type RunReader interface {
	Run(ctx context.Context, runID string) ([]journal.Entry, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Catalog        *fields.Catalog
	Resolvers      map[string]idmapping.Resolver // keyed by result format
	Strategy       idmapping.Strategy
	Recorder       idmapping.Recorder // nil when the journal is disabled
	Runs           RunReader          // nil when the journal is disabled
	Database       HealthChecker      // nil when the journal is disabled
	Defaults       mapping.Selection
	DefaultFormat  string
	BatchSize      int
	MaxIdentifiers int
}

// MappingHandler handles ID mapping HTTP requests
type MappingHandler struct {
	logger         *slog.Logger
	catalog        *fields.Catalog
	resolvers      map[string]idmapping.Resolver
	strategy       idmapping.Strategy
	recorder       idmapping.Recorder
	runs           RunReader
	defaults       mapping.Selection
	defaultFormat  string
	batchSize      int
	maxIdentifiers int
}

// NewMappingHandler creates a new MappingHandler instance
func NewMappingHandler(deps *Dependencies) *MappingHandler {
	h := &MappingHandler{
		logger:         deps.Logger,
		catalog:        deps.Catalog,
		resolvers:      deps.Resolvers,
		strategy:       deps.Strategy,
		recorder:       deps.Recorder,
		runs:           deps.Runs,
		defaults:       deps.Defaults,
		defaultFormat:  deps.DefaultFormat,
		batchSize:      deps.BatchSize,
		maxIdentifiers: deps.MaxIdentifiers,
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	if h.catalog == nil {
		h.catalog = fields.Default()
	}
	if h.defaults == (mapping.Selection{}) {
		h.defaults = h.catalog.DefaultSelection()
	}
	if h.defaultFormat == "" {
		h.defaultFormat = mapping.FormatTSV
	}
	if h.batchSize <= 0 {
		h.batchSize = mapping.DefaultBatchSize
	}
	return h
}
