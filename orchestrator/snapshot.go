package orchestrator

import "time"

// Snapshot is a read-only view of the orchestrator.
type Snapshot struct {
	State          State             `json:"state"`
	Cycle          string            `json:"cycle,omitempty"`
	Started        time.Time         `json:"started,omitempty"`
	Error          []string          `json:"error,omitempty"`
	ErrorKind      string            `json:"error_kind,omitempty"`
	Stages         map[string]string `json:"stages"`
	HasAccessToken bool              `json:"has_access_token"`
	HasEmbedURL    bool              `json:"has_embed_url"`
	HasEmbedToken  bool              `json:"has_embed_token"`
}
