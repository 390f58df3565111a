package orchestrator

import (
	"github.com/nomis52/embedflow/errorreport"
)

// The methods below implement stages.Sink. They are called from stage
// goroutines and check the cycle and state before writing anything.

func (o *Orchestrator) AccessTokenAcquired(cycle, token string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.acceptLocked(cycle, "access_token", AwaitingAccessToken) {
		return false
	}
	o.artifacts.AccessToken = token
	o.setStateLocked(AwaitingURLAndToken)
	return true
}

func (o *Orchestrator) EmbedURLResolved(cycle, embedURL string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.acceptLocked(cycle, "embed_url", AwaitingURLAndToken) {
		return false
	}
	o.artifacts.EmbedURL = embedURL
	return true
}

func (o *Orchestrator) EmbedTokenIssued(cycle, token string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.acceptLocked(cycle, "embed_token", AwaitingURLAndToken) {
		return false
	}
	o.artifacts.EmbedToken = token
	return true
}

// ArtifactsJoined is the single continuation after both concurrent fetches
// succeeded. It enters Ready and embeds.
func (o *Orchestrator) ArtifactsJoined(cycle string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.acceptLocked(cycle, "join", AwaitingURLAndToken) || !o.artifacts.Complete() {
		return false
	}
	o.setStateLocked(Ready)
	_ = o.embedLocked()
	return true
}

// StageFailed moves the current cycle to Failed. Within an already failed
// cycle the latest report wins.
func (o *Orchestrator) StageFailed(cycle string, report *errorreport.Report) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cycle != o.cycle {
		o.discardLocked(cycle, "failure")
		return
	}
	switch o.state {
	case AwaitingAccessToken, AwaitingURLAndToken, Failed:
		o.failLocked(report)
	default:
		o.discardLocked(cycle, "failure")
	}
}
