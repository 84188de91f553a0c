package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"peer_chat/internal/domain"
	"peer_chat/pkg/logger"
)

const DefaultBufferSize = 64

// Broker pushes freshly sent messages to the live subscriptions of their
// recipient. Delivery is best effort: there is no queue for absent recipients
// and a subscriber whose buffer is full misses the message. The message store
// is the durable record; the broker holds nothing once a message is consumed.
//
// Broker is safe for concurrent use.
type Broker struct {
	mu         sync.RWMutex
	subs       map[string]map[uuid.UUID]*Subscription
	bufferSize int
	log        logger.Logger
}

func New(bufferSize int, log logger.Logger) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broker{
		subs:       make(map[string]map[uuid.UUID]*Subscription),
		bufferSize: bufferSize,
		log:        log,
	}
}

// Subscription is one live feed for one connection.
type Subscription struct {
	ID     uuid.UUID
	UserID string

	ch      chan *domain.ChatMessage
	broker  *Broker
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Messages yields the messages addressed to the subscriber, in publish order.
// The channel is closed once the subscription ends.
func (s *Subscription) Messages() <-chan *domain.ChatMessage {
	return s.ch
}

// Done is closed once the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.done)
	})
}

// Subscribe registers a feed for userID. The subscription ends when ctx is
// cancelled or Close is called, whichever comes first.
func (b *Broker) Subscribe(ctx context.Context, userID string) *Subscription {
	sub := &Subscription{
		ID:     uuid.New(),
		UserID: userID,
		ch:     make(chan *domain.ChatMessage, b.bufferSize),
		broker: b,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	userSubs, ok := b.subs[userID]
	if !ok {
		userSubs = make(map[uuid.UUID]*Subscription)
		b.subs[userID] = userSubs
	}
	userSubs[sub.ID] = sub
	b.mu.Unlock()

	b.log.Debug("Subscriber registered", "user_id", userID, "subscription_id", sub.ID)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub
}

// Publish hands message to every live subscription of its recipient and
// returns how many accepted it. It never blocks: a full buffer drops the
// message for that subscription only.
func (b *Broker) Publish(message *domain.ChatMessage) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs[message.RecipientID] {
		// Each subscription gets its own copy so readers cannot alias each other.
		msg := *message
		select {
		case sub.ch <- &msg:
			delivered++
		default:
			dropped := sub.dropped.Add(1)
			b.log.Warn("Subscriber buffer full, message dropped",
				"user_id", sub.UserID, "subscription_id", sub.ID, "message_id", message.ID, "dropped", dropped)
		}
	}
	return delivered
}

// SubscriberCount reports the live subscriptions for userID.
func (b *Broker) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.RLock()
	all := make([]*Subscription, 0)
	for _, userSubs := range b.subs {
		for _, sub := range userSubs {
			all = append(all, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range all {
		sub.Close()
	}
}

// remove takes the write lock, so no Publish is sending on sub.ch when it closes.
func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if userSubs, ok := b.subs[sub.UserID]; ok {
		delete(userSubs, sub.ID)
		if len(userSubs) == 0 {
			delete(b.subs, sub.UserID)
		}
	}
	close(sub.ch)
	b.log.Debug("Subscriber unregistered", "user_id", sub.UserID, "subscription_id", sub.ID)
}
