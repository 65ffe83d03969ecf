package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
)

// pollInterval bounds how long a queued LISTEN/UNLISTEN waits for the
// receive loop to pick it up.
const pollInterval = 100 * time.Millisecond

var errNotListening = errors.New("LISTEN connection not established")

// Dispatcher receives NOTIFY payloads. Implemented by Broker.
type Dispatcher interface {
	Broadcast(channel string, payload []byte)
}

// channelOp asks the receive loop to LISTEN on or UNLISTEN from a channel.
type channelOp struct {
	channel string
	listen  bool
	reply   chan error
}

// NotifyListener holds one dedicated pgx connection for PostgreSQL
// LISTEN/NOTIFY and hands every notification to a Dispatcher.
//
// The connection and the set of listened channels belong to the receive
// loop goroutine; callers reach them only through ops.
type NotifyListener struct {
	dsn        string
	dispatcher Dispatcher
	newBackOff func() backoff.BackOff
	ops        chan channelOp
	onState    func(err error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifyListener creates a listener that is idle until Start.
func NewNotifyListener(dsn string, dispatcher Dispatcher) *NotifyListener {
	return &NotifyListener{
		dsn:        dsn,
		dispatcher: dispatcher,
		newBackOff: reconnectBackOff,
		ops:        make(chan channelOp),
	}
}

func reconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// OnConnectionState registers fn to be called with the error when the
// connection is lost and with nil once it is restored. Call before Start.
func (l *NotifyListener) OnConnectionState(fn func(err error)) {
	l.onState = fn
}

func (l *NotifyListener) reportState(err error) {
	if l.onState != nil {
		l.onState(err)
	}
}

// Start opens the LISTEN connection and launches the receive loop.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect LISTEN session: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.mu.Lock()
	l.cancel, l.done = cancel, done
	l.mu.Unlock()

	go func() {
		defer close(done)
		l.run(loopCtx, conn)
	}()
	slog.Info("NotifyListener started")
	return nil
}

// Subscribe starts LISTEN on channel and returns once it is active.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	return l.submit(ctx, channelOp{channel: channel, listen: true})
}

// Unsubscribe stops LISTEN on channel. It is a no-op when the listener is
// not running.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	err := l.submit(ctx, channelOp{channel: channel})
	if errors.Is(err, errNotListening) {
		return nil
	}
	return err
}

func (l *NotifyListener) submit(ctx context.Context, op channelOp) error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return errNotListening
	}

	op.reply = make(chan error, 1)
	select {
	case l.ops <- op:
	case <-done:
		return errNotListening
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run owns conn until ctx is cancelled, swapping in a fresh connection
// whenever the current one fails.
func (l *NotifyListener) run(ctx context.Context, conn *pgx.Conn) {
	listening := make(map[string]struct{})
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for ctx.Err() == nil {
		if conn == nil {
			conn = l.redial(ctx, listening)
			continue
		}
		l.applyPending(ctx, conn, listening)

		waitCtx, cancel := context.WithTimeout(ctx, pollInterval)
		n, err := conn.WaitForNotification(waitCtx)
		timedOut := waitCtx.Err() != nil
		cancel()

		switch {
		case err == nil:
			l.dispatcher.Broadcast(n.Channel, []byte(n.Payload))
		case ctx.Err() != nil:
			return
		case timedOut:
		default:
			slog.Error("NOTIFY connection lost", "error", err, "channels", len(listening))
			_ = conn.Close(context.Background())
			conn = nil
			l.reportState(err)
		}
	}
}

// applyPending executes every queued op without blocking.
func (l *NotifyListener) applyPending(ctx context.Context, conn *pgx.Conn, listening map[string]struct{}) {
	for {
		select {
		case op := <-l.ops:
			op.reply <- apply(ctx, conn, listening, op)
		default:
			return
		}
	}
}

func apply(ctx context.Context, conn *pgx.Conn, listening map[string]struct{}, op channelOp) error {
	_, active := listening[op.channel]
	if active == op.listen {
		return nil
	}
	stmt := "UNLISTEN "
	if op.listen {
		stmt = "LISTEN "
	}
	if _, err := conn.Exec(ctx, stmt+pgx.Identifier{op.channel}.Sanitize()); err != nil {
		return fmt.Errorf("%s%s: %w", stmt, op.channel, err)
	}
	if op.listen {
		listening[op.channel] = struct{}{}
	} else {
		delete(listening, op.channel)
	}
	return nil
}

// redial reconnects with exponential backoff and restores every channel in
// listening. It returns nil only when ctx is cancelled.
func (l *NotifyListener) redial(ctx context.Context, listening map[string]struct{}) *pgx.Conn {
	var conn *pgx.Conn
	attempt := func() error {
		c, err := pgx.Connect(ctx, l.dsn)
		if err != nil {
			slog.Warn("LISTEN reconnect failed", "error", err)
			return err
		}
		for ch := range listening {
			if _, err := c.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				_ = c.Close(context.Background())
				return fmt.Errorf("re-LISTEN %s: %w", ch, err)
			}
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(attempt, backoff.WithContext(l.newBackOff(), ctx)); err != nil {
		return nil
	}
	slog.Info("NotifyListener reconnected", "channels", len(listening))
	l.reportState(nil)
	return conn
}

// Stop cancels the receive loop and waits for it to close the connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	slog.Info("NotifyListener stopped")
}
