package idmapping

import (
	"fmt"
	"slices"

	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
)

// Plan splits ids into ordered batches of at most maxBatchSize identifiers.
// Identifiers are kept verbatim and in order, duplicates included, so the
// query column echoed by the service can be matched back to the input.
func Plan(ids []string, maxBatchSize int) ([]domain.Batch, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no identifiers to map", domain.ErrInvalidInput)
	}
	if maxBatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", domain.ErrInvalidInput, maxBatchSize)
	}

	batches := make([]domain.Batch, 0, (len(ids)+maxBatchSize-1)/maxBatchSize)
	for start := 0; start < len(ids); start += maxBatchSize {
		end := min(start+maxBatchSize, len(ids))
		batches = append(batches, domain.Batch{
			Index: len(batches),
			IDs:   slices.Clone(ids[start:end]),
		})
	}
	return batches, nil
}
