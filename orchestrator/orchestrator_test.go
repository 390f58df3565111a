package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/embedflow/config"
	"github.com/nomis52/embedflow/embed"
	"github.com/nomis52/embedflow/errorreport"
	"github.com/nomis52/embedflow/logging"
	"github.com/nomis52/embedflow/reportclient"
	"github.com/nomis52/embedflow/surface"
)

const (
	kindAccessToken = "access_token"
	kindEmbedURL    = "embed_url"
	kindEmbedToken  = "embed_token"
	waitTimeout     = 2 * time.Second
)

type reply struct {
	value string
	err   error
}

type call struct {
	kind  string
	args  []string
	reply chan reply
}

func (c call) succeed(v string) { c.reply <- reply{value: v} }
func (c call) fail(err error)   { c.reply <- reply{err: err} }

// scriptedFetcher hands every call to the test, which answers it explicitly.
type scriptedFetcher struct {
	calls chan call

	mu     sync.Mutex
	counts map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{calls: make(chan call, 16), counts: map[string]int{}}
}

func (f *scriptedFetcher) do(ctx context.Context, kind string, args ...string) (string, error) {
	f.mu.Lock()
	f.counts[kind]++
	f.mu.Unlock()

	c := call{kind: kind, args: args, reply: make(chan reply, 1)}
	f.calls <- c
	select {
	case r := <-c.reply:
		return r.value, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *scriptedFetcher) FetchAccessToken(ctx context.Context, creds reportclient.Credentials) (string, error) {
	return f.do(ctx, kindAccessToken, creds.ClientID)
}

func (f *scriptedFetcher) FetchEmbedURL(ctx context.Context, accessToken, workspaceID, reportID string) (string, error) {
	return f.do(ctx, kindEmbedURL, accessToken, workspaceID, reportID)
}

func (f *scriptedFetcher) FetchEmbedToken(ctx context.Context, accessToken, datasetID, reportID string) (string, error) {
	return f.do(ctx, kindEmbedToken, accessToken, datasetID, reportID)
}

func (f *scriptedFetcher) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[kind]
}

func (f *scriptedFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.counts {
		n += c
	}
	return n
}

// next waits for the next call and checks its kind.
func (f *scriptedFetcher) next(t *testing.T, kind string) call {
	t.Helper()
	select {
	case c := <-f.calls:
		require.Equal(t, kind, c.kind)
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s call", kind)
		return call{}
	}
}

// pair collects the concurrent embed URL and embed token calls.
func (f *scriptedFetcher) pair(t *testing.T) (urlCall, tokenCall call) {
	t.Helper()
	for i := 0; i < 2; i++ {
		select {
		case c := <-f.calls:
			switch c.kind {
			case kindEmbedURL:
				urlCall = c
			case kindEmbedToken:
				tokenCall = c
			default:
				t.Fatalf("unexpected %s call", c.kind)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for embed url and embed token calls")
		}
	}
	return urlCall, tokenCall
}

func (f *scriptedFetcher) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected %s call", c.kind)
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingMetrics struct {
	mu      sync.Mutex
	started int
	settled map[string]int
	stale   map[string]int
}

func (m *recordingMetrics) CycleStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) CycleSettled(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled[outcome]++
}

func (m *recordingMetrics) StaleResponseDiscarded(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale[stage]++
}

func (m *recordingMetrics) staleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.stale {
		n += c
	}
	return n
}

type fixture struct {
	orch      *Orchestrator
	fetcher   *scriptedFetcher
	bridge    *surface.Bridge
	container *surface.Container
	metrics   *recordingMetrics
	collector *logging.Collector
}

func testConfig() *config.Config {
	return &config.Config{
		Report:      config.ReportConfig{WorkspaceID: "ws", ReportID: "r1", DatasetID: "ds"},
		Credentials: config.CredentialsConfig{ClientID: "client", ClientSecret: "secret", Scope: "scope"},
		Filter:      config.FilterConfig{Table: "Country", Column: "country_name", Values: []string{"INDIA"}},
	}
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	f := &fixture{
		fetcher:   newScriptedFetcher(),
		bridge:    surface.NewBridge(logging.Discard()),
		container: surface.NewContainer("report-container"),
		metrics:   &recordingMetrics{settled: map[string]int{}, stale: map[string]int{}},
		collector: logging.NewCollector(4),
	}
	driver := embed.NewDriver(f.bridge, f.container,
		embed.WithLogger(logging.Discard()),
		embed.WithFilters(embed.FilterFromConfig(cfg.Filter)),
	)
	ids := 0
	orch, err := New(cfg, f.fetcher, driver,
		WithLogger(logging.Discard()),
		WithMetrics(f.metrics),
		WithCollector(f.collector),
		WithCycleIDFunc(func() string { ids++; return fmt.Sprintf("cycle-%d", ids) }),
	)
	require.NoError(t, err)
	t.Cleanup(orch.Close)
	f.orch = orch
	return f
}

func (f *fixture) await(t *testing.T, states ...State) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	s, err := f.orch.Await(ctx, states...)
	require.NoError(t, err)
	return s
}

// embedAll drives a mounted orchestrator to Embedded with T, U and E.
func (f *fixture) embedAll(t *testing.T) {
	t.Helper()
	f.fetcher.next(t, kindAccessToken).succeed("T")
	u, e := f.fetcher.pair(t)
	u.succeed("U")
	e.succeed("E")
	f.await(t, Embedded)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	driver := embed.NewDriver(surface.NewBridge(logging.Discard()), surface.NewContainer("c"))
	_, err := New(nil, newScriptedFetcher(), driver)
	assert.Error(t, err)
	_, err = New(testConfig(), nil, driver)
	assert.Error(t, err)
	_, err = New(testConfig(), newScriptedFetcher(), nil)
	assert.Error(t, err)
}

func TestMount_MissingIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		report config.ReportConfig
	}{
		{"empty workspace", config.ReportConfig{ReportID: "r1"}},
		{"empty report", config.ReportConfig{WorkspaceID: "ws"}},
		{"both empty", config.ReportConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Report = tt.report
			f := newFixture(t, cfg)

			require.NoError(t, f.orch.Mount(context.Background()))

			assert.Equal(t, Failed, f.orch.State())
			assert.Equal(t, []string{MissingIdentifiersMessage}, f.container.Lines())
			assert.Equal(t, errorreport.KindConfiguration, f.orch.Report().Kind)
			f.fetcher.assertNoCall(t)
			assert.Equal(t, 0, f.fetcher.total())
			assert.Equal(t, 0, f.bridge.Embeds())
		})
	}
}

func TestMount_HappyPath(t *testing.T) {
	f := newFixture(t, testConfig())

	require.NoError(t, f.orch.Mount(context.Background()))
	assert.Equal(t, AwaitingAccessToken, f.orch.State())

	tokenCall := f.fetcher.next(t, kindAccessToken)
	assert.Equal(t, []string{"client"}, tokenCall.args)
	tokenCall.succeed("T")
	f.await(t, AwaitingURLAndToken)

	u, e := f.fetcher.pair(t)
	assert.Equal(t, []string{"T", "ws", "r1"}, u.args)
	assert.Equal(t, []string{"T", "ds", "r1"}, e.args)
	u.succeed("U")
	e.succeed("E")
	f.await(t, Embedded)

	assert.Equal(t, embed.Artifacts{AccessToken: "T", EmbedURL: "U", EmbedToken: "E"}, f.orch.Artifacts())
	cfg, ok := f.bridge.Config("report-container")
	require.True(t, ok)
	assert.Equal(t, "U", cfg.EmbedURL)
	assert.Equal(t, "E", cfg.AccessToken)
	assert.Equal(t, "r1", cfg.ID)
	assert.Equal(t, 1, f.bridge.Embeds())
	assert.Nil(t, f.orch.Report())
	assert.Equal(t, 1, f.metrics.settled["embedded"])

	require.NoError(t, f.bridge.Dispatch(context.Background(), "report-container", embed.EventLoaded, surface.EventPayload{}))
	applied, ok := f.bridge.AppliedFilters("report-container")
	require.True(t, ok)
	assert.Equal(t, []embed.Filter{embed.FilterFromConfig(testConfig().Filter)}, applied)
}

func TestCompletionOrder_EmbedsExactlyOnce(t *testing.T) {
	tests := []struct {
		name   string
		answer func(u, e call)
	}{
		{"url then token", func(u, e call) { u.succeed("U"); e.succeed("E") }},
		{"token then url", func(u, e call) { e.succeed("E"); u.succeed("U") }},
		{"interleaved", func(u, e call) {
			var wg sync.WaitGroup
			wg.Add(2)
			go func() { defer wg.Done(); u.succeed("U") }()
			go func() { defer wg.Done(); e.succeed("E") }()
			wg.Wait()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			require.NoError(t, f.orch.Mount(context.Background()))
			f.fetcher.next(t, kindAccessToken).succeed("T")

			u, e := f.fetcher.pair(t)
			tt.answer(u, e)
			f.await(t, Embedded)

			assert.Equal(t, 1, f.bridge.Embeds())
			assert.Equal(t, embed.Artifacts{AccessToken: "T", EmbedURL: "U", EmbedToken: "E"}, f.orch.Artifacts())
		})
	}
}

func TestRender_Idempotent(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.orch.Render(context.Background()))

	for i := 0; i < 5; i++ {
		require.NoError(t, f.orch.Render(context.Background()))
	}
	f.embedAll(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, f.orch.Render(context.Background()))
		require.NoError(t, f.orch.Mount(context.Background()))
	}

	f.fetcher.assertNoCall(t)
	assert.Equal(t, 1, f.fetcher.count(kindAccessToken))
	assert.Equal(t, 1, f.fetcher.count(kindEmbedURL))
	assert.Equal(t, 1, f.fetcher.count(kindEmbedToken))
	assert.Equal(t, 1, f.bridge.Embeds())
	assert.Equal(t, Embedded, f.orch.State())
}

func TestRender_WhileAwaitingDoesNotRefetch(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.orch.Mount(context.Background()))
	f.fetcher.next(t, kindAccessToken).succeed("T")
	u, e := f.fetcher.pair(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.orch.Render(context.Background()))
	}
	f.fetcher.assertNoCall(t)

	u.succeed("U")
	e.succeed("E")
	f.await(t, Embedded)
	assert.Equal(t, 1, f.fetcher.count(kindAccessToken))
}

func TestAccessTokenUnauthorized(t *testing.T) {
	f := newFixture(t, testConfig())
	report := &errorreport.Report{
		Kind:       errorreport.KindProtocol,
		StatusCode: 401,
		ErrorCode:  "invalid_client",
		Lines: []string{
			reportclient.DescribeAccessToken,
			"Request Id: abc",
			"Error 401: invalid_client",
		},
	}

	require.NoError(t, f.orch.Mount(context.Background()))
	f.fetcher.next(t, kindAccessToken).fail(report)
	f.await(t, Failed)

	f.fetcher.assertNoCall(t)
	assert.Equal(t, 0, f.fetcher.count(kindEmbedURL))
	assert.Equal(t, 0, f.fetcher.count(kindEmbedToken))
	assert.Equal(t, report.Lines, f.container.Lines())
	assert.Contains(t, f.orch.Report().Lines, "Error 401: invalid_client")
	assert.Equal(t, 0, f.bridge.Embeds())
	assert.Equal(t, 1, f.metrics.settled["failed"])

	require.Eventually(t, func() bool {
		return f.orch.Snapshot().Stages["access_token"] == "❌ Error 401: invalid_client"
	}, waitTimeout, time.Millisecond)
	snap := f.orch.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.Equal(t, "protocol", snap.ErrorKind)
	assert.False(t, snap.HasAccessToken)
}

func TestSiblingFailure(t *testing.T) {
	urlReport := errorreport.Configuration("url failed")
	tokenReport := errorreport.Configuration("token failed")

	t.Run("later sibling success is discarded", func(t *testing.T) {
		f := newFixture(t, testConfig())
		require.NoError(t, f.orch.Mount(context.Background()))
		f.fetcher.next(t, kindAccessToken).succeed("T")
		u, e := f.fetcher.pair(t)

		u.fail(urlReport)
		f.await(t, Failed)
		e.succeed("E")

		require.Eventually(t, func() bool { return f.metrics.staleCount() == 1 }, waitTimeout, time.Millisecond)
		assert.Equal(t, Failed, f.orch.State())
		assert.Equal(t, "", f.orch.Artifacts().EmbedToken)
		assert.Equal(t, []string{"url failed"}, f.container.Lines())
		assert.Equal(t, 0, f.bridge.Embeds())
	})

	t.Run("later sibling failure replaces report", func(t *testing.T) {
		f := newFixture(t, testConfig())
		require.NoError(t, f.orch.Mount(context.Background()))
		f.fetcher.next(t, kindAccessToken).succeed("T")
		u, e := f.fetcher.pair(t)

		u.fail(urlReport)
		f.await(t, Failed)
		e.fail(tokenReport)

		require.Eventually(t, func() bool {
			r := f.orch.Report()
			return r != nil && r.Lines[0] == "token failed"
		}, waitTimeout, time.Millisecond)
		assert.Equal(t, []string{"token failed"}, f.container.Lines())
		assert.Equal(t, 1, f.metrics.settled["failed"])
	})
}

func TestStaleAccessTokenDiscarded(t *testing.T) {
	f := newFixture(t, testConfig())

	require.NoError(t, f.orch.Mount(context.Background()))
	stale := f.fetcher.next(t, kindAccessToken)
	f.orch.Unmount()
	assert.Equal(t, Idle, f.orch.State())

	require.NoError(t, f.orch.Mount(context.Background()))
	current := f.fetcher.next(t, kindAccessToken)

	stale.succeed("T-old")
	require.Eventually(t, func() bool { return f.metrics.staleCount() == 1 }, waitTimeout, time.Millisecond)
	assert.Equal(t, AwaitingAccessToken, f.orch.State())
	assert.Equal(t, embed.Artifacts{}, f.orch.Artifacts())
	assert.Equal(t, 1, f.metrics.stale["access_token"])

	current.succeed("T")
	u, e := f.fetcher.pair(t)
	assert.Equal(t, "T", u.args[0])
	assert.Equal(t, "T", e.args[0])
	u.succeed("U")
	e.succeed("E")
	f.await(t, Embedded)

	f.fetcher.assertNoCall(t)
	assert.Equal(t, 2, f.fetcher.count(kindAccessToken))
	assert.Equal(t, 1, f.fetcher.count(kindEmbedURL))
	assert.Equal(t, "T", f.orch.Artifacts().AccessToken)
}

func TestStaleFailureDiscarded(t *testing.T) {
	f := newFixture(t, testConfig())

	require.NoError(t, f.orch.Mount(context.Background()))
	stale := f.fetcher.next(t, kindAccessToken)
	require.NoError(t, f.orch.Remount(context.Background()))
	current := f.fetcher.next(t, kindAccessToken)

	stale.fail(errorreport.Configuration("old failure"))
	require.Eventually(t, func() bool { return f.metrics.staleCount() == 1 }, waitTimeout, time.Millisecond)
	assert.Equal(t, AwaitingAccessToken, f.orch.State())
	assert.Nil(t, f.orch.Report())
	assert.Empty(t, f.container.Lines())

	current.succeed("T")
	f.await(t, AwaitingURLAndToken)
}

func TestUnmount_ReleasesAndClears(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.orch.Mount(context.Background()))
	f.embedAll(t)
	require.NotNil(t, f.orch.Session())

	f.orch.Unmount()

	assert.Equal(t, Idle, f.orch.State())
	assert.Nil(t, f.orch.Session())
	assert.Equal(t, embed.Artifacts{}, f.orch.Artifacts())
	_, ok := f.bridge.Config("report-container")
	assert.False(t, ok)
}

func TestRemount_StartsNewCycleAndClearsError(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.orch.Mount(context.Background()))
	f.fetcher.next(t, kindAccessToken).fail(errorreport.Configuration("boom"))
	f.await(t, Failed)
	require.Equal(t, []string{"boom"}, f.container.Lines())

	require.NoError(t, f.orch.Remount(context.Background()))
	assert.Empty(t, f.container.Lines())
	f.embedAll(t)

	assert.Equal(t, "cycle-2", f.orch.Snapshot().Cycle)
	assert.Equal(t, 1, f.bridge.Embeds())
	assert.Equal(t, 2, f.metrics.started)
}

func TestRemount_ReplacesEmbeddedReport(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.orch.Mount(context.Background()))
	f.embedAll(t)

	require.NoError(t, f.orch.Remount(context.Background()))
	f.embedAll(t)

	assert.Equal(t, 2, f.bridge.Embeds())
	assert.NotNil(t, f.orch.Session())
}

func TestAwait_ContextDone(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := f.orch.Await(ctx, Embedded)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Idle, s)
}

func TestLogsCapturedPerCycle(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.orch.Mount(context.Background()))
	f.embedAll(t)

	entries := f.orch.Logs("cycle-1")
	require.NotEmpty(t, entries)
	messages := make([]string, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "token cycle started")
	assert.Contains(t, messages, "✔ access token acquired")
	assert.Nil(t, f.orch.Logs("cycle-9"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "awaiting_access_token", AwaitingAccessToken.String())
	assert.Equal(t, "awaiting_url_and_token", AwaitingURLAndToken.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "embedded", Embedded.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, Failed.Settled())
	assert.False(t, Ready.Settled())
}
