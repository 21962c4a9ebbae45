package model

const (
	SourceTypeText = "text"
	SourceTypeFile = "file"
)

const (
	SourceStatusPending   = "pending"
	SourceStatusCompleted = "completed"
	SourceStatusFailed    = "failed"
)

type KnowledgeSource struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	Status   string `json:"status"`
	Ctime    int64  `json:"ctime"`
	Mtime    int64  `json:"mtime"`
}
