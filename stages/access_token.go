package stages

import (
	"context"

	"github.com/nomis52/embedflow/config"
	"github.com/nomis52/embedflow/reportclient"
	"github.com/nomis52/embedflow/statusreporter"
)

// AccessTokenStage exchanges the client credentials for an access token.
type AccessTokenStage struct {
	Client      Fetcher
	Cycle       *Cycle
	Status      *statusreporter.StatusReporter
	Credentials config.CredentialsConfig `config:"credentials"`

	token string
}

func (s *AccessTokenStage) StageName() string { return "access_token" }

func (s *AccessTokenStage) Init() error { return nil }

func (s *AccessTokenStage) Execute(ctx context.Context) error {
	return statusreporter.RecordError(s, s.Status, func() error {
		s.Status.SetStatus(s, "fetching access token")

		token, err := s.Client.FetchAccessToken(ctx, reportclient.Credentials{
			ClientID:     s.Credentials.ClientID,
			ClientSecret: s.Credentials.ClientSecret,
			Scope:        s.Credentials.Scope,
		})
		if err != nil {
			return fail(s.Cycle, err, reportclient.DescribeAccessToken)
		}
		if !s.Cycle.Sink.AccessTokenAcquired(s.Cycle.ID, token) {
			return ErrStale
		}

		s.token = token
		s.Status.SetStatus(s, "✔ access token acquired")
		return nil
	})
}

// Token returns the acquired access token. Only valid once the stage succeeded.
func (s *AccessTokenStage) Token() string {
	return s.token
}
