package models

// Message is one turn of a chat conversation in the normalized
// OpenAI-style role/content shape. Format adapters translate it to
// vendor-specific payloads.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
