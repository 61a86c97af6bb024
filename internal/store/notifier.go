package store

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// UnsubscribeFunc releases one subscription. Safe to call more than once.
type UnsubscribeFunc func()

// Notifier fans change events out to subscribers. Events carry no payload;
// subscribers re-query the store so every delivery is a full snapshot.
type Notifier interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(topic string, fn func()) UnsubscribeFunc
}

const (
	// TopicDiagrams fires on any diagram create/update/delete
	TopicDiagrams = "diagrams"
	// TopicGrants fires on any permission grant upsert/revoke
	TopicGrants = "grants"
)

// DiagramTopic is the per-document topic for a single diagram
func DiagramTopic(id string) string {
	return "diagram:" + id
}

const channelPrefix = "diagramsync:"

// RedisNotifier bridges change events across processes over Redis pub/sub.
// One pattern subscription is shared by all local subscribers.
type RedisNotifier struct {
	client *redis.Client
	pubsub *redis.PubSub

	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]func()
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	n := &RedisNotifier{
		client:   client,
		handlers: make(map[string]map[int]func()),
	}
	n.pubsub = client.PSubscribe(context.Background(), channelPrefix+"*")
	go n.dispatch()
	return n
}

func (n *RedisNotifier) dispatch() {
	for msg := range n.pubsub.Channel() {
		topic := strings.TrimPrefix(msg.Channel, channelPrefix)
		n.fanOut(topic)
	}
}

func (n *RedisNotifier) fanOut(topic string) {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.handlers[topic]))
	for _, fn := range n.handlers[topic] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	// invoke outside the lock so handlers may unsubscribe
	for _, fn := range fns {
		fn()
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, topic string) error {
	return n.client.Publish(ctx, channelPrefix+topic, "1").Err()
}

func (n *RedisNotifier) Subscribe(topic string, fn func()) UnsubscribeFunc {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	if n.handlers[topic] == nil {
		n.handlers[topic] = make(map[int]func())
	}
	n.handlers[topic][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.handlers[topic], id)
	}
}

// Close stops the Redis subscription; pending events are dropped
func (n *RedisNotifier) Close() {
	if err := n.pubsub.Close(); err != nil {
		log.Printf("[STORE] failed to close pubsub: %v", err)
	}
}

// LocalNotifier is an in-process Notifier used when Redis is unavailable
// and in tests. Fan-out is synchronous.
type LocalNotifier struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]func()
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{handlers: make(map[string]map[int]func())}
}

func (n *LocalNotifier) Publish(ctx context.Context, topic string) error {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.handlers[topic]))
	for _, fn := range n.handlers[topic] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

func (n *LocalNotifier) Subscribe(topic string, fn func()) UnsubscribeFunc {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	if n.handlers[topic] == nil {
		n.handlers[topic] = make(map[int]func())
	}
	n.handlers[topic][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.handlers[topic], id)
	}
}
