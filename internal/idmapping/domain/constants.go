package domain

// JobStatus is the status reported by the remote ID-mapping service
type JobStatus string

// Remote job status constants
const (
	JobStatusRunning  JobStatus = "RUNNING"
	JobStatusFinished JobStatus = "FINISHED"
	JobStatusFailed   JobStatus = "FAILED"
	JobStatusNotFound JobStatus = "NOT_FOUND"
)

// Terminal reports whether no further polling can change the status
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed || s == JobStatusNotFound
}

// JobState is the local lifecycle state of a mapping job
type JobState string

// Local job state constants
const (
	JobStateCreated      JobState = "CREATED"
	JobStateSubmitted    JobState = "SUBMITTED"
	JobStateReadyToFetch JobState = "READY_TO_FETCH"
	JobStateDelivered    JobState = "DELIVERED"
	JobStateFailed       JobState = "FAILED"
)

// Output formats accepted by the results endpoint
const (
	FormatTSV   = "tsv"
	FormatFASTA = "fasta"
)

// DefaultBatchSize is the service limit on identifiers per mapping job
const DefaultBatchSize = 500
