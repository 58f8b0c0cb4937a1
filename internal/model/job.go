package model

import "time"

// RenderJob is the public projection of a render job. The cancel handle that
// drives cooperative cancellation lives in the job store, never here.
type RenderJob struct {
	ID             string     `json:"id"`
	TemplateID     string     `json:"templateId"`
	Quality        Quality    `json:"quality"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	Stage          string     `json:"stage,omitempty"`
	RenderedFrames int        `json:"renderedFrames,omitempty"`
	EncodedFrames  int        `json:"encodedFrames,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	OutputFile     string     `json:"outputFile,omitempty"`
	OutputPath     string     `json:"outputPath,omitempty"`
	OutputURL      string     `json:"outputUrl,omitempty"`
	Error          *JobError  `json:"error,omitempty"`
}

// JobError is the failure detail recorded on a job with status "error".
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Terminal reports whether the job has reached a sink state.
func (j *RenderJob) Terminal() bool {
	return j.Status.Terminal()
}

// RenderCreateRequest is the body of POST /api/renders.
type RenderCreateRequest struct {
	TemplateID string `json:"templateId" validate:"required"`
	Quality    string `json:"quality"`
}

// RenderJobResponse wraps a job for the HTTP surface.
type RenderJobResponse struct {
	Job *RenderJob `json:"job"`
}
