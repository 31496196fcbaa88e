package msg

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Topic names a message stream.
type Topic int

const (
	// Step carries one record per solved control interval.
	Step Topic = iota
	// Control carries controller events.
	Control
	// Episode carries episode summaries.
	Episode
)

func (t Topic) String() string {
	switch t {
	case Step:
		return "step"
	case Control:
		return "control"
	case Episode:
		return "episode"
	}
	return "unknown"
}

// Inbox is the buffer depth of every subscription.
const Inbox = 128

// Publisher is an interface for objects that allow subscription to their events
type Publisher interface {
	Subscribe(uuid.UUID, ...Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is a payload tagged with its sender and topic.
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (v Msg) PID() uuid.UUID {
	return v.sender
}

// Topic returns the stream the message was published on
func (v Msg) Topic() Topic {
	return v.topic
}

// Payload returns the message data
func (v Msg) Payload() interface{} {
	return v.payload
}

// PubSub fans published messages out to subscribers by topic.
type PubSub struct {
	pid    uuid.UUID
	mux    *sync.Mutex
	subs   map[Topic]map[uuid.UUID]chan Msg
	closed bool
}

// NewPublisher returns a PubSub that stamps messages with pid.
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		pid:  pid,
		mux:  &sync.Mutex{},
		subs: make(map[Topic]map[uuid.UUID]chan Msg),
	}
}

// PID is the sender id stamped on published messages.
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe returns one buffered channel receiving every message on topics,
// in the order they were published.
func (p *PubSub) Subscribe(pid uuid.UUID, topics ...Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.closed {
		return nil, errors.New("msg: publisher closed")
	}
	if len(topics) == 0 {
		return nil, errors.New("msg: no topic")
	}
	for _, topic := range topics {
		if _, ok := p.subs[topic][pid]; ok {
			return nil, fmt.Errorf("msg: already subscribed to %s", topic)
		}
	}
	ch := make(chan Msg, Inbox)
	for _, topic := range topics {
		if _, ok := p.subs[topic]; !ok {
			p.subs[topic] = make(map[uuid.UUID]chan Msg)
		}
		p.subs[topic][pid] = ch
	}
	return ch, nil
}

// Unsubscribe closes every channel held by pid.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	closed := make(map[chan Msg]bool)
	for _, subs := range p.subs {
		if ch, ok := subs[pid]; ok {
			delete(subs, pid)
			if !closed[ch] {
				close(ch)
				closed[ch] = true
			}
		}
	}
}

// Subscribers is the number of subscriptions on topic.
func (p *PubSub) Subscribers(topic Topic) int {
	p.mux.Lock()
	defer p.mux.Unlock()
	return len(p.subs[topic])
}

// Publish delivers payload to every subscriber of topic. A subscriber whose
// inbox is full misses the message.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	p.mux.Lock()
	defer p.mux.Unlock()
	m := New(p.pid, topic, payload)
	for pid, ch := range p.subs[topic] {
		select {
		case ch <- m:
		default:
			log.Warnf("[PubSub] %s inbox full, dropped %s message", pid, topic)
		}
	}
}

// Close unsubscribes everyone. Later Subscribe calls fail.
func (p *PubSub) Close() {
	p.mux.Lock()
	defer p.mux.Unlock()
	closed := make(map[chan Msg]bool)
	for _, subs := range p.subs {
		for pid, ch := range subs {
			delete(subs, pid)
			if !closed[ch] {
				close(ch)
				closed[ch] = true
			}
		}
	}
	p.closed = true
}
