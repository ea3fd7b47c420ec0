package domain

// ParamProjectID is the run parameter naming the project an export reads
const ParamProjectID = "projectId"

// RunMessage is published to the queue when a job is dispatched
type RunMessage struct {
	JobID   string            `json:"job_id"`
	JobType JobType           `json:"job_type"`
	Params  map[string]string `json:"params,omitempty"`
}

// JobMessage is a RunMessage received by the worker, with its delivery tag
type JobMessage struct {
	RunMessage
	DeliveryTag uint64 `json:"-"`
}
