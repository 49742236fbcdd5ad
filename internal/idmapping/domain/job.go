package domain

import "time"

// Batch is an ordered group of identifiers submitted together as one job.
// IDs must not be modified once the batch is planned.
type Batch struct {
	Index int
	IDs   []string
}

// Selection is the (from, to) database pair of a mapping request
type Selection struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Job represents one in-flight remote mapping job
type Job struct {
	ID        string
	Batch     Batch
	Selection Selection
	Status    JobStatus
	State     JobState
	ResultURL string
	CreatedAt time.Time
	Polls     int
}

// Payload is the raw result body of one finished job
type Payload struct {
	Batch  Batch
	JobID  string
	Format string
	Data   []byte
}

// Result is one element of an orchestrator run: either a payload or the
// error that ended the batch.
type Result struct {
	Batch   Batch
	Payload *Payload
	Err     error
}
