package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// catchupLimit is the maximum number of stored events replayed to a new subscriber.
const catchupLimit = 500

// listenTimeout bounds how long a LISTEN command may block when subscribing to
// a new PG channel.
const listenTimeout = 10 * time.Second

// subscriberBuffer is the number of live messages a slow subscriber may lag
// behind before messages are dropped for it.
const subscriberBuffer = 256

// CatchupEvent is a stored event replayed to late subscribers.
type CatchupEvent struct {
	ID      int64
	Payload map[string]any
}

// CatchupQuerier queries stored events. Implemented by EventServiceAdapter.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error)
}

// ChannelListener starts and stops delivery of a NOTIFY channel.
// Implemented by NotifyListener.
type ChannelListener interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
}

// Broker fans NOTIFY payloads out to in-process subscribers (SSE streams).
// Each process has one Broker.
type Broker struct {
	catchup CatchupQuerier

	mu       sync.RWMutex
	channels map[string]map[string]*Subscription

	listenerMu sync.RWMutex
	listener   ChannelListener
}

// NewBroker creates a Broker. catchup may be nil.
func NewBroker(catchup CatchupQuerier) *Broker {
	return &Broker{
		catchup:  catchup,
		channels: make(map[string]map[string]*Subscription),
	}
}

// SetListener sets the listener used for dynamic LISTEN/UNLISTEN.
// Called once during startup after both Broker and NotifyListener are created.
func (b *Broker) SetListener(l ChannelListener) {
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()
	b.listener = l
}

// Subscription is one subscriber's view of a channel: stored events since the
// requested id first, then live messages.
type Subscription struct {
	ID      string
	channel string
	live    chan []byte
	backlog [][]byte
	lastID  int64
	broker  *Broker
	once    sync.Once
}

// Subscribe registers for a channel, starting LISTEN for the first subscriber,
// and loads stored events with id > sinceID. LISTEN completes before the
// catch-up query so no event falls between the two.
func (b *Broker) Subscribe(ctx context.Context, channel string, sinceID int64) (*Subscription, error) {
	s := &Subscription{
		ID:      uuid.New().String(),
		channel: channel,
		live:    make(chan []byte, subscriberBuffer),
		lastID:  sinceID,
		broker:  b,
	}

	b.mu.Lock()
	subs, exists := b.channels[channel]
	if !exists {
		subs = make(map[string]*Subscription)
		b.channels[channel] = subs
	}
	subs[s.ID] = s
	b.mu.Unlock()

	if !exists {
		if l := b.currentListener(); l != nil {
			listenCtx, cancel := context.WithTimeout(ctx, listenTimeout)
			err := l.Subscribe(listenCtx, channel)
			cancel()
			if err != nil {
				b.remove(s)
				return nil, fmt.Errorf("LISTEN on channel %s: %w", channel, err)
			}
		}
	}

	if err := b.loadBacklog(ctx, s, sinceID); err != nil {
		slog.Error("Catchup query failed", "channel", channel, "error", err)
	}
	return s, nil
}

// Broadcast delivers a payload to every subscriber of the channel. A
// subscriber whose buffer is full misses the message.
func (b *Broker) Broadcast(channel string, payload []byte) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.channels[channel]))
	for _, s := range b.channels[channel] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.live <- payload:
		default:
			slog.Warn("Dropping event for slow subscriber",
				"subscription_id", s.ID, "channel", channel)
		}
	}
}

// SubscriberCount returns the number of subscribers of a channel.
func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

func (b *Broker) currentListener() ChannelListener {
	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()
	return b.listener
}

func (b *Broker) loadBacklog(ctx context.Context, s *Subscription, sinceID int64) error {
	if b.catchup == nil {
		return nil
	}
	stored, err := b.catchup.GetCatchupEvents(ctx, s.channel, sinceID, catchupLimit)
	if err != nil {
		return err
	}
	for _, evt := range stored {
		evt.Payload["db_event_id"] = evt.ID
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			continue
		}
		s.backlog = append(s.backlog, data)
		s.lastID = evt.ID
	}
	return nil
}

// remove drops a subscription and stops LISTEN when it was the last one.
// UNLISTEN runs asynchronously and re-checks for a fresh subscriber first.
func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	subs, exists := b.channels[s.channel]
	if !exists {
		b.mu.Unlock()
		return
	}
	delete(subs, s.ID)
	last := len(subs) == 0
	if last {
		delete(b.channels, s.channel)
	}
	b.mu.Unlock()

	if !last {
		return
	}
	if l := b.currentListener(); l != nil {
		go func() {
			if b.SubscriberCount(s.channel) > 0 {
				return
			}
			if err := l.Unsubscribe(context.Background(), s.channel); err != nil {
				slog.Error("Failed to UNLISTEN channel", "channel", s.channel, "error", err)
			}
		}()
	}
}

// Next returns the next message: backlog first, then live messages. Live
// messages already covered by the backlog (by db_event_id) are skipped.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	if len(s.backlog) > 0 {
		msg := s.backlog[0]
		s.backlog = s.backlog[1:]
		return msg, nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-s.live:
			if id, ok := dbEventID(msg); ok {
				if id <= s.lastID {
					continue
				}
				s.lastID = id
			}
			return msg, nil
		}
	}
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.broker.remove(s) })
}

func dbEventID(payload []byte) (int64, bool) {
	var envelope struct {
		DBEventID *int64 `json:"db_event_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.DBEventID == nil {
		return 0, false
	}
	return *envelope.DBEventID, true
}
