package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumix-remote/lumix-go/pkg/log"
	"github.com/lumix-remote/lumix-go/pkg/session"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Defaults for the busy retry policy.
const (
	DefaultMaxRetries = 10
	DefaultRetryDelay = time.Second
)

// errEpochChanged marks a round trip that straddled a teardown.
var errEpochChanged = errors.New("session torn down during call")

// Call is one transport-specific request.
type Call interface {
	// Target names the call for errors and logs.
	Target() string
}

// Gated is implemented by calls that must not run while the device reports
// it is being operated by hand.
type Gated interface {
	RequiresIdle() bool
}

// Result is a device reply with its classified status.
type Result struct {
	Status wire.Status

	// Payload is the transport-specific decoded reply.
	Payload any

	// Raw is the undecoded reply body, if any.
	Raw []byte

	// Message is a status detail for error reporting.
	Message string

	// Attempts counts dispatches including the final one.
	Attempts int
}

// Dispatcher performs a single round trip on the current link.
type Dispatcher interface {
	Dispatch(ctx context.Context, call Call) (*Result, error)
}

// Readier brings the session to Ready.
type Readier interface {
	EnsureReady(ctx context.Context) error
}

// LossReporter is told when a call observed the link failing.
type LossReporter interface {
	NotifyConnectionLost(reason error)
}

// Pending tracks one call through its retries.
type Pending struct {
	Target   string
	Call     Call
	Retries  int
	Deadline time.Time
}

// Config configures an Executor.
type Config struct {
	// MaxRetries bounds re-dispatches after a busy reply.
	MaxRetries int

	// RetryDelay is the fixed wait before each busy retry.
	RetryDelay time.Duration

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger

	// Protocol receives call events. May be nil.
	Protocol *log.Scope

	// Tracer opens one span per call. If nil, the global provider's tracer
	// is used, which is a no-op until the host installs one.
	Tracer trace.Tracer
}

const tracerName = "github.com/lumix-remote/lumix-go/pkg/interaction"

// DefaultConfig returns the standard retry policy.
func DefaultConfig() Config {
	return Config{MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay}
}

type options struct {
	quiet      bool
	skipReady  bool
	noConnect  bool
	maxRetries int
}

// Option adjusts a single Execute call.
type Option func(*options)

// Quiet suppresses the connection-lost report on transport errors. The
// caller handles link failure itself.
func Quiet() Option {
	return func(o *options) { o.quiet = true }
}

// NoConnect fails with wire.ErrNotConnected instead of bringing the
// session to Ready. Background workers use it so only the connection
// manager starts a connect cycle.
func NoConnect() Option {
	return func(o *options) { o.noConnect = true }
}

// MaxRetries overrides the busy retry bound for one call.
func MaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// Executor runs calls one at a time against the session's link.
type Executor struct {
	session    *session.Session
	dispatcher Dispatcher
	ready      Readier
	loss       LossReporter
	config     Config
}

// NewExecutor creates an Executor. ready and loss may be nil for a
// standalone executor that never connects or reports.
func NewExecutor(s *session.Session, d Dispatcher, ready Readier, loss LossReporter, config Config) *Executor {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Tracer == nil {
		config.Tracer = otel.Tracer(tracerName)
	}
	return &Executor{
		session:    s,
		dispatcher: d,
		ready:      ready,
		loss:       loss,
		config:     config,
	}
}

// SetHooks installs the readiness and loss hooks after construction, for
// owners that are built after the executor.
func (e *Executor) SetHooks(ready Readier, loss LossReporter) {
	e.ready = ready
	e.loss = loss
}

// Execute brings the session to Ready and then runs call.
//
// A busy reply is retried after RetryDelay up to MaxRetries times. Any
// other non-OK status is returned at once as *wire.StatusError. Transport
// failures are returned as *wire.TransportError and reported upward unless
// Quiet is given.
func (e *Executor) Execute(ctx context.Context, call Call, opts ...Option) (*Result, error) {
	return e.run(ctx, call, false, opts)
}

// Do runs call without the readiness check and without reporting link
// loss. It is meant for the handshake, which runs while the session is
// still authenticating.
func (e *Executor) Do(ctx context.Context, call Call, opts ...Option) (*Result, error) {
	return e.run(ctx, call, true, append(opts, Quiet()))
}

func (e *Executor) run(ctx context.Context, call Call, skipReady bool, opts []Option) (res *Result, err error) {
	ctx, span := e.config.Tracer.Start(ctx, "lumix.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("lumix.target", call.Target())),
	)
	defer func() {
		if res != nil {
			span.SetAttributes(
				attribute.Int("lumix.attempts", res.Attempts),
				attribute.String("lumix.status", res.Status.String()),
			)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return e.execute(ctx, call, skipReady, opts)
}

func (e *Executor) execute(ctx context.Context, call Call, skipReady bool, opts []Option) (*Result, error) {
	o := options{skipReady: skipReady, maxRetries: e.config.MaxRetries}
	for _, opt := range opts {
		opt(&o)
	}
	target := call.Target()

	if !o.skipReady && !o.noConnect && e.ready != nil {
		if err := e.ready.EnsureReady(ctx); err != nil {
			return nil, err
		}
	}
	if g, ok := call.(Gated); ok && g.RequiresIdle() && e.session.Busy() {
		return nil, fmt.Errorf("%s: %w", target, wire.ErrGated)
	}

	release, err := e.session.AcquireCommand(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ready, epoch := e.session.Ready()
	if !o.skipReady && !ready {
		return nil, fmt.Errorf("%s: %w", target, wire.ErrNotConnected)
	}

	p := &Pending{Target: target, Call: call}
	if dl, ok := ctx.Deadline(); ok {
		p.Deadline = dl
	}

	for {
		e.config.Protocol.Request(target, p.Retries, "")
		start := time.Now()
		res, err := e.dispatcher.Dispatch(ctx, call)
		if err == nil && e.session.Epoch() != epoch {
			err = errEpochChanged
		}
		if err != nil {
			return nil, e.fail(ctx, p, err, o.quiet)
		}
		e.config.Protocol.Response(target, p.Retries, res.Status, time.Since(start))

		switch {
		case res.Status.IsSuccess():
			res.Attempts = p.Retries + 1
			return res, nil

		case res.Status.Retryable() && p.Retries < o.maxRetries:
			p.Retries++
			e.debugLog("device busy, retrying", "target", target, "retry", p.Retries)
			if err := sleep(ctx, e.config.RetryDelay); err != nil {
				return nil, err
			}

		default:
			res.Attempts = p.Retries + 1
			return res, &wire.StatusError{
				Status:  res.Status,
				Target:  target,
				Retries: p.Retries,
				Message: res.Message,
			}
		}
	}
}

// fail classifies a dispatch error. Cancellation and protocol-level
// failures pass through; anything else is a transport error.
func (e *Executor) fail(ctx context.Context, p *Pending, err error, quiet bool) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if errors.Is(err, wire.ErrProtocol) || errors.Is(err, wire.ErrInvalidParameter) {
		e.config.Protocol.Error(log.LayerCall, p.Target, err)
		return err
	}

	var te *wire.TransportError
	if !errors.As(err, &te) {
		te = &wire.TransportError{Op: p.Target, Err: err}
	}
	e.config.Protocol.Error(log.LayerCall, p.Target, te)
	e.debugLog("call failed on transport", "target", p.Target, "error", err)
	if !quiet && e.loss != nil {
		e.loss.NotifyConnectionLost(te)
	}
	return te
}

func (e *Executor) debugLog(msg string, args ...any) {
	if e.config.Logger != nil {
		e.config.Logger.Debug(msg, args...)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
