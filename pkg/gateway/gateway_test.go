package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lipish/openrunner/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCreator hands out mock agents per provider name and records the
// order in which providers were instantiated.
type scriptedCreator struct {
	mu      sync.Mutex
	agents  map[string]func() agent.Agent
	created []string
	configs []agent.Config
}

func newScriptedCreator() *scriptedCreator {
	return &scriptedCreator{agents: make(map[string]func() agent.Agent)}
}

func (c *scriptedCreator) succeed(provider string, tokens ...string) *scriptedCreator {
	c.agents[provider] = func() agent.Agent {
		return agent.NewMockAgent(agent.WithName(provider), agent.WithScript(tokens...), agent.WithDelays(0, 0))
	}
	return c
}

func (c *scriptedCreator) fail(provider string, tokens ...string) *scriptedCreator {
	c.agents[provider] = func() agent.Agent {
		return agent.NewMockAgent(
			agent.WithName(provider),
			agent.WithScript(tokens...),
			agent.WithDelays(0, 0),
			agent.WithFailure(errors.New(provider+" unavailable")),
		)
	}
	return c
}

func (c *scriptedCreator) Create(cfg agent.Config) (agent.Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, cfg.Type)
	c.configs = append(c.configs, cfg)
	build, ok := c.agents[cfg.Type]
	if !ok {
		return nil, agent.ErrUnknownAgentType
	}
	return build(), nil
}

func (c *scriptedCreator) history() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.created...)
}

func runCollect(t *testing.T, g *Gateway) ([]agent.StreamEvent, error) {
	t.Helper()
	sink := make(chan agent.StreamEvent, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := g.Run(ctx, "hello", sink)
	close(sink)

	var events []agent.StreamEvent
	for ev := range sink {
		events = append(events, ev)
	}
	return events, err
}

func TestGatewayFallbackUsesOnlyFallbackOutput(t *testing.T) {
	creator := newScriptedCreator().fail("primary").succeed("backup", "he", "llo")
	g, err := New(Config{Provider: "primary", FallbackProviders: []string{"backup"}}, creator)
	require.NoError(t, err)

	events, err := runCollect(t, g)
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, agent.Token("he"), events[0])
	assert.Equal(t, agent.Token("llo"), events[1])
	assert.Equal(t, agent.EventDone, events[2].Type)
	for _, ev := range events {
		assert.NotEqual(t, agent.EventError, ev.Type)
	}
	assert.Equal(t, []string{"primary", "backup"}, creator.history())
}

func TestGatewayRoundRobinSequence(t *testing.T) {
	creator := newScriptedCreator().succeed("a", "1").succeed("b", "2").succeed("c", "3")
	g, err := New(Config{Provider: "a", FallbackProviders: []string{"b", "c"}, LoadBalancing: RoundRobin}, creator)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := runCollect(t, g)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, creator.history())
}

func TestGatewayLeastLoadedMatchesRoundRobin(t *testing.T) {
	creator := newScriptedCreator().succeed("a").succeed("b")
	g, err := New(Config{Provider: "a", FallbackProviders: []string{"b"}, LoadBalancing: LeastLoaded}, creator)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := runCollect(t, g)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, creator.history())
}

func TestGatewayRandomUsesInjectedSource(t *testing.T) {
	creator := newScriptedCreator().succeed("a").succeed("b").succeed("c")
	g, err := New(Config{Provider: "a", FallbackProviders: []string{"b", "c"}, LoadBalancing: Random}, creator)
	require.NoError(t, err)

	picks := []int{2, 0, 1}
	g.randIntN = func(n int) int {
		assert.Equal(t, 3, n)
		p := picks[0]
		picks = picks[1:]
		return p
	}

	for i := 0; i < 3; i++ {
		_, err := runCollect(t, g)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"c", "a", "b"}, creator.history())
}

func TestGatewayNoPolicyAlwaysUsesPrimary(t *testing.T) {
	creator := newScriptedCreator().succeed("a").succeed("b")
	g, err := New(Config{Provider: "a", FallbackProviders: []string{"b"}}, creator)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := runCollect(t, g)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "a", "a"}, creator.history())
}

func TestGatewayAllProvidersFail(t *testing.T) {
	creator := newScriptedCreator().fail("a").fail("b").fail("c")
	g, err := New(Config{Provider: "a", FallbackProviders: []string{"b", "c"}}, creator)
	require.NoError(t, err)

	events, err := runCollect(t, g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c unavailable")

	assert.Empty(t, events)
	assert.Equal(t, []string{"a", "b", "c"}, creator.history())
}

func TestGatewayAllProvidersFailUnderHandleSendsOneTerminal(t *testing.T) {
	creator := newScriptedCreator().fail("a").fail("b")
	g, err := New(Config{Provider: "a", FallbackProviders: []string{"b"}}, creator)
	require.NoError(t, err)

	events := make(chan agent.StreamEvent, 100)
	h := agent.Spawn(g, events)
	defer h.Cancel(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(t, h.Run(ctx, "hello"))

	var got []agent.StreamEvent
	for drained := false; !drained; {
		select {
		case ev := <-events:
			got = append(got, ev)
		default:
			drained = true
		}
	}
	require.Len(t, got, 1)
	assert.Equal(t, agent.Failure("b unavailable"), got[0])
}

func TestGatewayNeverRetriesSameProvider(t *testing.T) {
	creator := newScriptedCreator().succeed("a").fail("b")
	g, err := New(Config{Provider: "a", FallbackProviders: []string{"b"}, LoadBalancing: RoundRobin}, creator)
	require.NoError(t, err)

	_, err = runCollect(t, g)
	require.NoError(t, err)

	// The second run selects b, whose only fallback is itself.
	_, err = runCollect(t, g)
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, creator.history())
}

func TestGatewayForwardsPartialTokensLive(t *testing.T) {
	creator := newScriptedCreator().fail("a", "par").succeed("b", "full")
	g, err := New(Config{Provider: "a", FallbackProviders: []string{"b"}}, creator)
	require.NoError(t, err)

	events, err := runCollect(t, g)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, agent.Token("par"), events[0])
	assert.Equal(t, agent.Token("full"), events[1])
	assert.Equal(t, agent.EventDone, events[2].Type)
}

func TestGatewayCreationFailureFallsBack(t *testing.T) {
	creator := newScriptedCreator().succeed("b", "ok")
	g, err := New(Config{Provider: "missing", FallbackProviders: []string{"b"}}, creator)
	require.NoError(t, err)

	events, err := runCollect(t, g)
	require.NoError(t, err)
	assert.Equal(t, agent.Token("ok"), events[0])
}

func TestGatewayStopsOnCancel(t *testing.T) {
	creator := newScriptedCreator().succeed("b")
	creator.agents["a"] = func() agent.Agent {
		return agent.NewMockAgent(agent.WithName("a"), agent.WithDelays(time.Hour, 0))
	}
	g, err := New(Config{Provider: "a", FallbackProviders: []string{"b"}}, creator)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = g.Run(ctx, "x", make(chan agent.StreamEvent, 10))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"a"}, creator.history())
}

func TestGatewayProviderConfig(t *testing.T) {
	creator := newScriptedCreator().fail("openrouter").succeed("openai")
	lookup := func(name string) (Config, bool) {
		if name == "openai" {
			return Config{Provider: "openai", Model: "gpt-4o", APIKey: "sk-openai"}, true
		}
		return Config{}, false
	}
	g, err := New(Config{
		Provider:          "openrouter",
		Model:             "openai/gpt-4",
		APIKey:            "sk-or-key",
		BaseURL:           "https://openrouter.example/v1",
		FallbackProviders: []string{"openai"},
	}, creator, WithLookup(lookup))
	require.NoError(t, err)

	_, err = runCollect(t, g)
	require.NoError(t, err)

	require.Len(t, creator.configs, 2)
	primary := creator.configs[0]
	assert.Equal(t, "openai/gpt-4", primary.Model)
	assert.Equal(t, "sk-or-key", primary.Env["OPENROUTER_API_KEY"])
	assert.Equal(t, "https://openrouter.example/v1", primary.Env["OPENROUTER_BASE_URL"])

	fallback := creator.configs[1]
	assert.Equal(t, "gpt-4o", fallback.Model)
	assert.Equal(t, "sk-openai", fallback.Env["OPENAI_API_KEY"])
	assert.NotContains(t, fallback.Env, "OPENROUTER_API_KEY")
}

type healthAgent struct {
	*agent.MockAgent
	err error
}

func (h healthAgent) HealthCheck(context.Context) error { return h.err }

func TestGatewayHealthCheck(t *testing.T) {
	creator := newScriptedCreator()
	creator.agents["sick"] = func() agent.Agent { return healthAgent{MockAgent: agent.NewMockAgent(), err: errors.New("down")} }
	creator.agents["well"] = func() agent.Agent { return healthAgent{MockAgent: agent.NewMockAgent()} }

	g, err := New(Config{Provider: "sick", FallbackProviders: []string{"well"}}, creator)
	require.NoError(t, err)
	assert.NoError(t, g.HealthCheck(context.Background()))

	g, err = New(Config{Provider: "sick", FallbackProviders: []string{"missing"}}, creator)
	require.NoError(t, err)
	err = g.HealthCheck(context.Background())
	assert.ErrorIs(t, err, ErrAllProvidersUnhealthy)
	assert.Contains(t, err.Error(), "down")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Provider: "openai", LoadBalancing: RoundRobin}, false},
		{"no policy", Config{Provider: "openai"}, false},
		{"missing provider", Config{}, true},
		{"empty fallback", Config{Provider: "openai", FallbackProviders: []string{""}}, true},
		{"unknown policy", Config{Provider: "openai", LoadBalancing: "fastest"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigRedacted(t *testing.T) {
	cfg := Config{Provider: "openai", APIKey: "sk-secret", FallbackProviders: []string{"x"}}
	red := cfg.Redacted()
	assert.Equal(t, "***", red.APIKey)
	red.FallbackProviders[0] = "y"
	assert.Equal(t, "x", cfg.FallbackProviders[0])
}
