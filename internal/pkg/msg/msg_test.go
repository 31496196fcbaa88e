package msg

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func TestSubscribe(t *testing.T) {
	pidPub, err := uuid.NewUUID()
	assert.NilError(t, err)
	pidSub1, _ := uuid.NewUUID()
	pidSub2, _ := uuid.NewUUID()

	pubsub := NewPublisher(pidPub)
	ch1, err := pubsub.Subscribe(pidSub1, Step)
	assert.NilError(t, err)
	ch2, err := pubsub.Subscribe(pidSub2, Step)
	assert.NilError(t, err)

	randValue := rand.Float64()
	pubsub.Publish(Step, randValue)

	for _, ch := range []<-chan Msg{ch1, ch2} {
		incoming := <-ch
		assert.Equal(t, incoming.Payload(), randValue)
		assert.Equal(t, incoming.PID(), pidPub)
		assert.Equal(t, incoming.Topic(), Step)
	}
}

func TestTopicsAreSeparate(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	step, _ := pubsub.Subscribe(pid, Step)
	ctrl, _ := pubsub.Subscribe(pid, Control)

	pubsub.Publish(Control, "event")
	assert.Equal(t, len(step), 0)
	assert.Equal(t, len(ctrl), 1)
}

func TestDoubleSubscribe(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	_, err := pubsub.Subscribe(pid, Step)
	assert.NilError(t, err)
	_, err = pubsub.Subscribe(pid, Step)
	assert.Assert(t, err != nil)
}

func TestUnsubscribe(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	ch, _ := pubsub.Subscribe(pid, Step)
	pubsub.Unsubscribe(pid)
	_, ok := <-ch
	assert.Assert(t, !ok)

	pubsub.Publish(Step, 1)
}

func TestPublishFullInboxDrops(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, _ := pubsub.Subscribe(uuid.New(), Step)
	for i := 0; i < Inbox+10; i++ {
		pubsub.Publish(Step, i)
	}
	assert.Equal(t, len(ch), Inbox)
	assert.Equal(t, (<-ch).Payload(), 0)
}

func TestClose(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, _ := pubsub.Subscribe(uuid.New(), Episode)
	pubsub.Close()
	_, ok := <-ch
	assert.Assert(t, !ok)
	_, err := pubsub.Subscribe(uuid.New(), Step)
	assert.Assert(t, err != nil)
}

func TestSubscribeManyTopicsKeepsOrder(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	ch, err := pubsub.Subscribe(pid, Control, Episode)
	assert.NilError(t, err)

	for i := 0; i < 20; i++ {
		pubsub.Publish(Control, i)
	}
	pubsub.Publish(Step, "ignored")
	pubsub.Publish(Episode, "summary")

	for i := 0; i < 20; i++ {
		m := <-ch
		assert.Equal(t, m.Topic(), Control)
		assert.Equal(t, m.Payload(), i)
	}
	m := <-ch
	assert.Equal(t, m.Topic(), Episode)
	assert.Equal(t, len(ch), 0)

	assert.Equal(t, pubsub.Subscribers(Control), 1)
	assert.Equal(t, pubsub.Subscribers(Step), 0)
	_, err = pubsub.Subscribe(pid, Step, Episode)
	assert.Assert(t, err != nil)
	assert.Equal(t, pubsub.Subscribers(Step), 0)
	_, err = pubsub.Subscribe(pid)
	assert.Assert(t, err != nil)

	pubsub.Unsubscribe(pid)
	_, ok := <-ch
	assert.Assert(t, !ok)
	assert.Equal(t, pubsub.Subscribers(Control), 0)
	pubsub.Publish(Control, "after")
}

func TestCloseSharedChannelOnce(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, err := pubsub.Subscribe(uuid.New(), Step, Control, Episode)
	assert.NilError(t, err)
	pubsub.Close()
	_, ok := <-ch
	assert.Assert(t, !ok)
}
