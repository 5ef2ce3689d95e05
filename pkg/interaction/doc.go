// Package interaction runs device calls under the session's command slot.
//
// An Executor serializes calls (one in flight per session), retries
// busy replies on a fixed cadence up to a bound, and turns link failures
// into *wire.TransportError while telling the connection manager so the
// session is torn down. Calls are never replayed across a reconnect: if the
// session epoch changes during a round trip the result is discarded.
//
// Each call is traced as one "lumix.call" span on Config.Tracer.
//
//	exec := interaction.NewExecutor(sess, dispatcher, manager, manager, interaction.DefaultConfig())
//	res, err := exec.Execute(ctx, call)
//	switch {
//	case errors.Is(err, wire.ErrBusy):        // still busy after MaxRetries
//	case errors.Is(err, wire.ErrTransport):   // session was torn down
//	}
package interaction
