package models

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content    string
	PageNumber int
	ChunkID    int
}

// PromptResponse is a RAG answer together with the context it was given.
type PromptResponse struct {
	Query     string           `json:"query"`
	Source    string           `json:"source"`
	Content   string           `json:"content"`
	Documents []ScoredDocument `json:"documents,omitempty"`
}
