package mq

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscription delivers payloads until Close is called.
type Subscription interface {
	C() <-chan []byte
	Close() error
}

// Subscriber registers interest in a topic. The subscription is live when
// Subscribe returns, so nothing published afterwards is missed.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

type Broker interface {
	Publisher
	Subscriber
}

type Noop struct{}

func (Noop) Publish(context.Context, string, []byte) error { return nil }

// Memory fans payloads out to subscribers inside one process. Slow
// subscribers lose messages rather than block publishers.
type Memory struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	buffer int
}

func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 16
	}
	return &Memory{subs: make(map[string]map[*memorySub]struct{}), buffer: buffer}
}

func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.subs[topic] {
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, topic string) (Subscription, error) {
	s := &memorySub{m: m, topic: topic, ch: make(chan []byte, m.buffer)}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*memorySub]struct{})
	}
	m.subs[topic][s] = struct{}{}
	return s, nil
}

type memorySub struct {
	m     *Memory
	topic string
	ch    chan []byte
	once  sync.Once
}

func (s *memorySub) C() <-chan []byte { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.m.mu.Lock()
		delete(s.m.subs[s.topic], s)
		s.m.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// Redis publishes over Redis pub/sub so every instance sees every event.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis { return &Redis{client: client} }

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.client.Publish(ctx, topic, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, topic)
	// wait for the subscribe confirmation before reporting the subscription live
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	s := &redisSub{ps: ps, ch: make(chan []byte), done: make(chan struct{})}
	go s.pump()
	return s, nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump() {
	defer close(s.ch)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSub) C() <-chan []byte { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
