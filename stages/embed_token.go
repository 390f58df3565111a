package stages

import (
	"context"

	"github.com/nomis52/embedflow/config"
	"github.com/nomis52/embedflow/reportclient"
	"github.com/nomis52/embedflow/statusreporter"
)

// EmbedTokenStage mints an embed token for the configured dataset/report pair.
type EmbedTokenStage struct {
	AccessToken *AccessTokenStage
	Client      Fetcher
	Cycle       *Cycle
	Status      *statusreporter.StatusReporter
	Report      config.ReportConfig `config:"report"`
}

func (s *EmbedTokenStage) StageName() string { return "embed_token" }

func (s *EmbedTokenStage) Init() error { return nil }

func (s *EmbedTokenStage) Execute(ctx context.Context) error {
	return statusreporter.RecordError(s, s.Status, func() error {
		s.Status.SetStatus(s, "requesting embed token")

		token, err := s.Client.FetchEmbedToken(ctx, s.AccessToken.Token(), s.Report.DatasetID, s.Report.ReportID)
		if err != nil {
			return fail(s.Cycle, err, reportclient.DescribeEmbedToken)
		}
		if !s.Cycle.Sink.EmbedTokenIssued(s.Cycle.ID, token) {
			return ErrStale
		}

		s.Status.SetStatus(s, "✔ embed token issued")
		return nil
	})
}
