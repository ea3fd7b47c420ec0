package domain

import "time"

// JobsBucket is the storage namespace every job artifact lives in
const JobsBucket = "jobs"

// JobType identifies what a job does
type JobType string

const (
	JobTypeExport JobType = "EXPORT"
	JobTypeImport JobType = "IMPORT"
)

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	switch t {
	case JobTypeExport, JobTypeImport:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusInitializing JobStatus = "initializing"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusComplete     JobStatus = "complete"
	JobStatusError        JobStatus = "error"
)

// Valid reports whether s is a known job status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusInitializing, JobStatusProcessing, JobStatusComplete, JobStatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusError
}

// Predecessor returns the only state a job may enter s from.
// The second return value is false for the initial state.
func (s JobStatus) Predecessor() (JobStatus, bool) {
	switch s {
	case JobStatusProcessing:
		return JobStatusInitializing, true
	case JobStatusComplete, JobStatusError:
		return JobStatusProcessing, true
	}
	return "", false
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to JobStatus) bool {
	prev, ok := to.Predecessor()
	return ok && prev == from
}

// Job is a tracked asynchronous unit of work
type Job struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	JobType   JobType   `db:"job_type" json:"job_type"`
	JobStatus JobStatus `db:"job_status" json:"job_status"`
	BucketID  string    `db:"bucket_id" json:"bucket_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	CreatedBy string    `db:"created_by" json:"created_by"`
}

// Profile is the creator's display profile joined into job listings
type Profile struct {
	ID        string  `db:"profile_id" json:"id"`
	Nickname  *string `db:"profile_nickname" json:"nickname"`
	FirstName *string `db:"profile_first_name" json:"first_name"`
	LastName  *string `db:"profile_last_name" json:"last_name"`
	AvatarURL *string `db:"profile_avatar_url" json:"avatar_url"`
}

// JobWithProfile is a job listing row
type JobWithProfile struct {
	Job
	Profile *Profile `json:"created_by_profile,omitempty"`
}

// JobUpdate is a partial update keyed by ID. Nil fields are left untouched.
type JobUpdate struct {
	ID        string
	Name      *string
	JobStatus *JobStatus
}
