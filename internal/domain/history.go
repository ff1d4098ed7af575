package domain

import "time"

// Call outcomes recorded in HistoryEntry.Status.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// HistoryEntry records one call made by the CLI so that it can be listed
// and replayed.
type HistoryEntry struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Connection Connection    `json:"connection"`
	Method     string        `json:"method"` // e.g. "/helloworld.Greeter/SayHello"
	Shape      string        `json:"shape"`
	Requests   []string      `json:"requests"`            // JSON, one per request message
	Responses  []string      `json:"responses,omitempty"` // JSON, one per response message
	Duration   time.Duration `json:"duration"`
	Status     string        `json:"status"`
	Code       string        `json:"code,omitempty"` // grpc status code name
	Error      string        `json:"error,omitempty"`
	Metadata   Metadata      `json:"metadata"`
}

// Metadata holds request and response headers.
type Metadata struct {
	Request  map[string]string `json:"request,omitempty"`
	Response map[string]string `json:"response,omitempty"`
}
