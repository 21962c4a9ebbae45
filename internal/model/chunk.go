package model

type ChunkMetadata struct {
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
	CharCount      int    `json:"char_count"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
}

type KnowledgeChunk struct {
	ID                string        `json:"id"`
	KnowledgeSourceID string        `json:"knowledge_source_id"`
	JobID             string        `json:"job_id"`
	Content           string        `json:"content"`
	ChunkIndex        int           `json:"chunk_index"`
	Embedding         []float32     `json:"-"`
	Metadata          ChunkMetadata `json:"metadata"`
	Ctime             int64         `json:"ctime"`
}

type ChunkMatch struct {
	KnowledgeSourceID string  `json:"knowledge_source_id"`
	ChunkIndex        int     `json:"chunk_index"`
	Content           string  `json:"content"`
	Score             float32 `json:"score"`
}
