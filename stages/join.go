package stages

import (
	"context"

	"github.com/nomis52/embedflow/statusreporter"
)

// JoinStage runs once both the embed URL and the embed token are in and
// hands control back to the sink exactly once per cycle.
type JoinStage struct {
	_ *EmbedURLStage
	_ *EmbedTokenStage

	Cycle  *Cycle
	Status *statusreporter.StatusReporter
}

func (s *JoinStage) StageName() string { return "join" }

func (s *JoinStage) Init() error { return nil }

func (s *JoinStage) Execute(ctx context.Context) error {
	if !s.Cycle.Sink.ArtifactsJoined(s.Cycle.ID) {
		s.Status.SetStatus(s, "cycle superseded")
		return ErrStale
	}
	s.Status.SetStatus(s, "✔ artifacts ready")
	return nil
}
