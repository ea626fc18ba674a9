package collab

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	redisclient "github.com/casewire/collab-server-go/internal/redis"
)

// Fanout shares bridge events between hub instances over Redis pub/sub.
// Each instance subscribes to a case channel while it hosts at least one
// member of that case; NotifyCaseUpdate publishes instead of delivering
// locally, and every subscribed instance (including the publisher) relays
// the event to its own members. Without Redis the hub delivers locally and
// this type is not constructed.
type Fanout struct {
	redis *redisclient.Client

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc

	// deliver is wired by NewHub.
	deliver func(caseID int64, data []byte)
}

func NewFanout(client *redisclient.Client) *Fanout {
	ctx, cancel := context.WithCancel(context.Background())
	return &Fanout{
		redis:   client,
		cancels: make(map[int64]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe starts relaying the case's channel into the local hub.
// Subscribing an already-subscribed case is a no-op.
func (f *Fanout) Subscribe(caseID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.cancels[caseID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(f.ctx)
	f.cancels[caseID] = cancel
	go f.run(ctx, caseID)
}

// Unsubscribe stops the case's relay. Idempotent.
func (f *Fanout) Unsubscribe(caseID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cancel, ok := f.cancels[caseID]; ok {
		cancel()
		delete(f.cancels, caseID)
	}
}

// Publish sends msg to every instance subscribed to the case.
func (f *Fanout) Publish(ctx context.Context, caseID int64, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return f.redis.Publish(ctx, redisclient.CaseChannel(caseID), data).Err()
}

func (f *Fanout) run(ctx context.Context, caseID int64) {
	channel := redisclient.CaseChannel(caseID)
	pubsub := f.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().Int64("caseId", caseID).Str("channel", channel).Msg("fanout subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			f.deliver(caseID, []byte(msg.Payload))
		}
	}
}

func (f *Fanout) Close() {
	f.cancel()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = make(map[int64]context.CancelFunc)
}
