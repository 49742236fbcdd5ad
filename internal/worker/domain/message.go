package domain

// Batch outcome values of ResultMessage.Status
const (
	StatusDelivered = "DELIVERED"
	StatusFailed    = "FAILED"
)

// RequestMessage asks the worker to map a list of identifiers
type RequestMessage struct {
	RequestID string   `json:"request_id"`
	IDs       []string `json:"ids"`
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	Format    string   `json:"format,omitempty"`
	BatchSize int      `json:"batch_size,omitempty"`
}

// ResultMessage carries the outcome of one batch of a request. A request
// whose publish fails is requeued and resolved again, so batches already
// published arrive twice; consumers keep one message per (RequestID, Batch).
// Redelivered marks messages produced by such a second run.
type ResultMessage struct {
	RequestID   string   `json:"request_id"`
	Batch       int      `json:"batch"`
	Batches     int      `json:"batches"`
	Status      string   `json:"status"`
	JobID       string   `json:"job_id,omitempty"`
	Format      string   `json:"format"`
	IDs         []string `json:"ids"`
	Data        string   `json:"data,omitempty"`
	Error       string   `json:"error,omitempty"`
	NotFound    bool     `json:"not_found,omitempty"`
	Redelivered bool     `json:"redelivered,omitempty"`
}
