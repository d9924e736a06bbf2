package datatypes

// Wire types for the inference engine collaborator. The engine is opaque:
// it accepts a question plus conversation context over HTTP and answers
// with a stream of typed chunks in the same {type,data} shape the chat
// endpoint re-emits to callers.

// InferenceRequest is the body of POST /chats on the inference engine.
// History carries the resolved conversation summary (cache hit or the
// persisted chat summary), not a message transcript.
type InferenceRequest struct {
	Question string `json:"question"`
	History  string `json:"history,omitempty"`
	Category string `json:"category,omitempty"`
}

// SummarizeRequest is the body of POST /summarize.
type SummarizeRequest struct {
	PreviousSummary string `json:"previousSummary,omitempty"`
	Question        string `json:"question"`
	Answer          string `json:"answer"`
}

// SummarizeResponse is the reply to POST /summarize.
type SummarizeResponse struct {
	Summary string `json:"summary"`
}

// TitleRequest is the body of POST /generate-title.
type TitleRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// TitleResponse is the reply to POST /generate-title.
type TitleResponse struct {
	Title string `json:"title"`
}
