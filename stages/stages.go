// Package stages holds the stages of one token cycle:
//
//	AccessTokenStage ──┬─> EmbedURLStage ───┬─> JoinStage
//	                   └─> EmbedTokenStage ─┘
//
// Every stage reports its outcome to the cycle's Sink, which applies it only
// while the cycle is current and still waiting for that outcome.
package stages

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nomis52/embedflow/config"
	"github.com/nomis52/embedflow/errorreport"
	"github.com/nomis52/embedflow/reportclient"
	"github.com/nomis52/embedflow/statusreporter"
	"github.com/nomis52/embedflow/workflow"
)

// ErrStale is returned by a stage whose outcome the Sink refused because the
// cycle was superseded or has already failed.
var ErrStale = errors.New("token cycle superseded")

// Fetcher performs the three remote calls. *reportclient.Client implements it.
type Fetcher interface {
	FetchAccessToken(ctx context.Context, creds reportclient.Credentials) (string, error)
	FetchEmbedURL(ctx context.Context, accessToken, workspaceID, reportID string) (string, error)
	FetchEmbedToken(ctx context.Context, accessToken, datasetID, reportID string) (string, error)
}

// Sink receives stage outcomes. The bool results report whether the value
// was applied.
type Sink interface {
	AccessTokenAcquired(cycle, token string) bool
	EmbedURLResolved(cycle, embedURL string) bool
	EmbedTokenIssued(cycle, token string) bool
	ArtifactsJoined(cycle string) bool
	StageFailed(cycle string, report *errorreport.Report)
}

// Cycle identifies the token cycle a stage graph runs for.
type Cycle struct {
	ID   string
	Sink Sink
}

// NewEngine builds the stage graph for one cycle.
func NewEngine(cfg *config.Config, cycle *Cycle, client Fetcher, status *statusreporter.StatusReporter, logger *slog.Logger) (*workflow.Engine, error) {
	engine := workflow.NewEngine(
		workflow.WithConfig(cfg),
		workflow.WithLogger(logger.With("cycle", cycle.ID)),
	)
	if err := engine.Inject(client, cycle, status); err != nil {
		return nil, err
	}
	if err := engine.AddStage(
		&AccessTokenStage{},
		&EmbedURLStage{},
		&EmbedTokenStage{},
		&JoinStage{},
	); err != nil {
		return nil, err
	}
	return engine, nil
}

// fail hands the failure to the sink and returns it as the stage error.
func fail(cycle *Cycle, err error, description string) error {
	report := errorreport.As(err, description)
	cycle.Sink.StageFailed(cycle.ID, report)
	return report
}
