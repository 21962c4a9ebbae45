package model

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// ProcessingJob tracks ingestion of one knowledge source. CurrentChunk is the
// resume cursor: every chunk below it has been embedded and stored.
// TotalChunks stays 0 until the first batch plans the source. EmbeddingModel
// is fixed by the first embedded chunk and every later chunk uses it.
type ProcessingJob struct {
	ID                string `json:"id"`
	KnowledgeSourceID string `json:"knowledge_source_id"`
	Status            string `json:"status"`
	CurrentChunk      int    `json:"current_chunk"`
	TotalChunks       int    `json:"total_chunks"`
	ErrorMessage      string `json:"error_message,omitempty"`
	EmbeddingModel    string `json:"embedding_model,omitempty"`
	ProcessedAt       int64  `json:"processed_at,omitempty"`
	Ctime             int64  `json:"ctime"`
	Mtime             int64  `json:"mtime"`
}

func (j *ProcessingJob) Planned() bool {
	return j.TotalChunks > 0
}

func (j *ProcessingJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
