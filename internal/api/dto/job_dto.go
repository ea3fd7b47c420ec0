package dto

import "github.com/recogito/studio-jobs/internal/domain"

type CreateJobRequest struct {
	Name    string `json:"name" binding:"required"`
	JobType string `json:"job_type" binding:"required"`
}

// UpdateJobRequest renames a job. Status is server managed and rejected when present.
type UpdateJobRequest struct {
	Name      *string `json:"name"`
	JobStatus *string `json:"job_status"`
}

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Data       []domain.JobWithProfile `json:"data"`
	NextCursor string                  `json:"next_cursor,omitempty"`
	HasMore    bool                    `json:"has_more"`
}

type DeleteJobResponse struct {
	Deleted []domain.Job `json:"deleted"`
}

type ArtifactResponse struct {
	JobID string `json:"job_id"`
	Bytes int64  `json:"bytes"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
