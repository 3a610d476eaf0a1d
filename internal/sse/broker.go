package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/campusmatch/call-server-go/internal/model"
	redisclient "github.com/campusmatch/call-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second

	EventTypeCallHint       = "call_hint"
	EventTypeCallTransition = "call_transition"
	EventTypeMissedCall     = "missed_call"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TransitionData is the change-feed payload: just the session id and the
// newly committed status. The row stays authoritative for everything else.
type TransitionData struct {
	SessionID string           `json:"sessionId"`
	Status    model.CallStatus `json:"status"`
}

type Client struct {
	UserID string
	Events chan Event
	Done   chan struct{}
}

// Broker fans redis pub/sub out to in-process listeners, one topic per user.
// Delivery is best-effort: no persistence, no ordering across publishes. A
// receiver that is offline at publish time relies on the durable session row
// instead.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // userID -> set of clients
	subs    map[string]*redis.PubSub    // userID -> pubsub, one per topic
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		subs:    make(map[string]*redis.PubSub),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(userID string) *Client {
	client := &Client{
		UserID: userID,
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[userID] == nil {
		b.clients[userID] = make(map[*Client]bool)
	}
	b.clients[userID][client] = true
	// One pubsub per topic regardless of how many clients share it, and a
	// fresh one after an unsubscribe/resubscribe cycle tore the old one down.
	if b.subs[userID] == nil {
		pubsub := b.redis.Subscribe(b.ctx, redisclient.SignalChannel(userID))
		b.subs[userID] = pubsub
		go b.pump(userID, pubsub)
	}
	clientCount := len(b.clients[userID])
	b.mu.Unlock()

	log.Info().
		Str("userId", userID).
		Int("clientCount", clientCount).
		Msg("signal client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.UserID]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.UserID)
			// Tear the redis subscription down with the last client; closing
			// the pubsub closes its message channel, which exits the pump.
			if pubsub := b.subs[client.UserID]; pubsub != nil {
				if err := pubsub.Close(); err != nil {
					log.Warn().Err(err).Str("userId", client.UserID).Msg("failed to close pubsub")
				}
				delete(b.subs, client.UserID)
			}
		}

		log.Info().
			Str("userId", client.UserID).
			Int("clientCount", len(clients)).
			Msg("signal client unsubscribed")
	}
}

// PublishHint pushes the incoming-call hint to the receiver's topic. Purely
// a latency optimization over the change feed; failures must not fail the
// dial.
func (b *Broker) PublishHint(ctx context.Context, toUserID string, hint model.CallHint) error {
	data, err := json.Marshal(hint)
	if err != nil {
		return err
	}
	return b.publish(ctx, toUserID, Event{Type: EventTypeCallHint, Data: data})
}

// PublishTransition emits a change-feed notification for a committed status
// transition.
func (b *Broker) PublishTransition(ctx context.Context, userID, sessionID string, status model.CallStatus) error {
	data, err := json.Marshal(TransitionData{SessionID: sessionID, Status: status})
	if err != nil {
		return err
	}
	return b.publish(ctx, userID, Event{Type: EventTypeCallTransition, Data: data})
}

// PublishMissedCall notifies the receiver so the external chat/notification
// collaborator can record the missed attempt.
func (b *Broker) PublishMissedCall(ctx context.Context, userID, sessionID, callerID string) error {
	data, err := json.Marshal(map[string]string{
		"sessionId": sessionID,
		"callerId":  callerID,
	})
	if err != nil {
		return err
	}
	return b.publish(ctx, userID, Event{Type: EventTypeMissedCall, Data: data})
}

func (b *Broker) publish(ctx context.Context, userID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.SignalChannel(userID)
	return b.redis.Publish(ctx, channel, data).Err()
}

// pump drains one user's pubsub into the in-process client set. It exits
// when the pubsub is closed (last client unsubscribed) or the broker shuts
// down.
func (b *Broker) pump(userID string, pubsub *redis.PubSub) {
	log.Debug().
		Str("userId", userID).
		Str("channel", redisclient.SignalChannel(userID)).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal signal event")
				continue
			}

			b.broadcast(userID, event)
		}
	}
}

func (b *Broker) broadcast(userID string, event Event) {
	b.mu.RLock()
	clients := b.clients[userID]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("userId", userID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	for userID, pubsub := range b.subs {
		if err := pubsub.Close(); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to close pubsub")
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.subs = make(map[string]*redis.PubSub)
}

func (b *Broker) ClientCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[userID])
}
