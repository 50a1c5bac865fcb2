package domain

// Document is a piece of supporting text returned by the retriever and
// injected into the system prompt to ground the model's answer.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Source   string            `json:"source,omitempty"`
	Score    float64           `json:"score,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
