package stages

import (
	"context"

	"github.com/nomis52/embedflow/config"
	"github.com/nomis52/embedflow/reportclient"
	"github.com/nomis52/embedflow/statusreporter"
)

// EmbedURLStage resolves the embed URL of the configured report.
type EmbedURLStage struct {
	AccessToken *AccessTokenStage
	Client      Fetcher
	Cycle       *Cycle
	Status      *statusreporter.StatusReporter
	Report      config.ReportConfig `config:"report"`
}

func (s *EmbedURLStage) StageName() string { return "embed_url" }

func (s *EmbedURLStage) Init() error { return nil }

func (s *EmbedURLStage) Execute(ctx context.Context) error {
	return statusreporter.RecordError(s, s.Status, func() error {
		s.Status.SetStatus(s, "resolving embed url")

		embedURL, err := s.Client.FetchEmbedURL(ctx, s.AccessToken.Token(), s.Report.WorkspaceID, s.Report.ReportID)
		if err != nil {
			return fail(s.Cycle, err, reportclient.DescribeEmbedURL)
		}
		if !s.Cycle.Sink.EmbedURLResolved(s.Cycle.ID, embedURL) {
			return ErrStale
		}

		s.Status.SetStatus(s, "✔ embed url resolved")
		return nil
	})
}
