// Package agent defines the Agent capability, the StreamEvent vocabulary agents
// emit, and the Handle actor that owns one agent and serializes commands to it.
//
// Invariants:
// - An Agent's Run pushes zero or more Token events, then Done on success. On failure it
//   returns the error and the Handle supplies the Error event.
// - A Handle publishes exactly one terminal event per Run command, whatever the outcome.
// - Agents stop producing once the run context is done; that is how a dropped consumer is observed.
//
// Usage:
//
//	events := make(chan agent.StreamEvent, 100)
//	a, _ := agent.NewFactory().Create(agent.Config{Type: agent.TypeMock})
//	h := agent.Spawn(a, events, agent.WithTimeout(5*time.Minute))
//	go func() { _ = h.Run(ctx, "hello") }()
//	for ev := range events {
//		if ev.Terminal() {
//			break
//		}
//	}
package agent
