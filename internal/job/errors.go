package job

// Error codes surfaced by the orchestrator. Validation and admission codes
// are returned synchronously from Create; RENDER_FAILED is only ever recorded
// on a job record.
const (
	CodeInvalidTemplateID = "INVALID_TEMPLATE_ID"
	CodeInvalidQuality    = "INVALID_QUALITY"
	CodeRenderInProgress  = "RENDER_IN_PROGRESS"
	CodeRenderNotFound    = "RENDER_NOT_FOUND"
	CodeRenderFailed      = "RENDER_FAILED"
)

// Error is a coded orchestrator error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
