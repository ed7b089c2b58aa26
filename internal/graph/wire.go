package graph

// JSON bodies exchanged between RemoteStore and the relay's graph handlers.

type NodeRequest struct {
	Path string `json:"path"`
	Key  string `json:"key,omitempty"`
	Data Record `json:"data"`
}

type NodeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Found   bool   `json:"found"`
	Data    Record `json:"data,omitempty"`
}

type SetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Key     string `json:"key,omitempty"`
}

type MapResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Nodes   map[string]Record `json:"nodes"`
}

// Event is one message on the relay's websocket feed.
type Event struct {
	Type string `json:"type"` // "record", "error"
	Path string `json:"path,omitempty"`
	Key  string `json:"key,omitempty"`
	Data Record `json:"data,omitempty"`
	// Error is set on "error" events.
	Error string `json:"error,omitempty"`
}

const EventTypeRecord = "record"
const EventTypeError = "error"
