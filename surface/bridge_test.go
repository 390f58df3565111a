package surface

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/embedflow/config"
	"github.com/nomis52/embedflow/embed"
	"github.com/nomis52/embedflow/logging"
)

func country() embed.Filter {
	return embed.FilterFromConfig(config.FilterConfig{Table: "Country", Column: "country_name", Values: []string{"INDIA"}})
}

func TestBridge_DriverRoundTrip(t *testing.T) {
	bridge := NewBridge(logging.Discard())
	container := NewContainer("report-container")
	driver := embed.NewDriver(bridge, container, embed.WithLogger(logging.Discard()), embed.WithFilters(country()))

	_, err := driver.Embed(embed.Artifacts{AccessToken: "T", EmbedURL: "U", EmbedToken: "E"}, "r1")
	require.NoError(t, err)

	cfg, ok := bridge.Config("report-container")
	require.True(t, ok)
	assert.Equal(t, "U", cfg.EmbedURL)
	assert.Equal(t, "r1", cfg.ID)

	existing := embed.Filter{Target: embed.Target{Table: "Region", Column: "name"}, Operator: "In", Values: []any{"APAC"}}
	require.NoError(t, bridge.Dispatch(context.Background(), "report-container", embed.EventLoaded, EventPayload{
		Filters: []embed.Filter{existing},
	}))

	applied, ok := bridge.AppliedFilters("report-container")
	require.True(t, ok)
	assert.Equal(t, []embed.Filter{existing, country()}, applied)
	assert.Equal(t, applied, driver.Session().AppliedFilters())

	require.NoError(t, bridge.Dispatch(context.Background(), "report-container", embed.EventError, EventPayload{Message: "TokenExpired"}))
	assert.Equal(t, "TokenExpired", driver.Session().LastError())

	driver.Release()
	_, ok = bridge.Config("report-container")
	assert.False(t, ok)
	assert.ErrorIs(t, bridge.Dispatch(context.Background(), "report-container", embed.EventRendered, EventPayload{}), ErrNotEmbedded)
	assert.Equal(t, 1, bridge.Embeds())
}

func TestBridge_EmbedRejectsIncompleteConfig(t *testing.T) {
	bridge := NewBridge(logging.Discard())
	_, err := bridge.Embed(NewContainer("c"), embed.Config{ID: "r"})
	assert.Error(t, err)
	assert.Equal(t, 0, bridge.Embeds())
}

func TestBridge_DispatchWithoutSubscriber(t *testing.T) {
	bridge := NewBridge(logging.Discard())
	c := NewContainer("c")
	_, err := bridge.Embed(c, embed.Config{ID: "r", EmbedURL: "U", AccessToken: "E"})
	require.NoError(t, err)

	assert.NoError(t, bridge.Dispatch(context.Background(), "c", embed.EventRendered, EventPayload{}))
}

func TestHandle_CancelledContext(t *testing.T) {
	bridge := NewBridge(logging.Discard())
	h, err := bridge.Embed(NewContainer("c"), embed.Config{ID: "r", EmbedURL: "U", AccessToken: "E"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.GetFilters(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, h.SetFilters(ctx, nil), context.Canceled)
}

func TestContainer(t *testing.T) {
	c := NewContainer("report-container")
	assert.Equal(t, "report-container", c.ID())

	lines := []string{"Error occurred while fetching the access token of the report", "Request Id: x", "Error 401: invalid_client"}
	c.SetText(lines)
	lines[0] = "mutated"

	assert.Equal(t, "Error occurred while fetching the access token of the report\nRequest Id: x\nError 401: invalid_client", c.Text())
	assert.Len(t, c.Lines(), 3)

	c.Clear()
	assert.Empty(t, c.Lines())
	assert.Equal(t, "", c.Text())
}
