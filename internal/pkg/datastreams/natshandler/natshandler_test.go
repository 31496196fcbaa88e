package natshandler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/vvc_core/internal/pkg/msg"
	"gotest.tools/v3/assert"

	nats "github.com/nats-io/nats.go"
)

func newHandler(t *testing.T) (Handler, *msg.PubSub) {
	pid, _ := uuid.NewUUID()
	pub := msg.NewPublisher(pid)
	h, err := New("./natshandler_test_config.json", pub)
	assert.NilError(t, err)
	return h, pub
}

func TestGetConfig(t *testing.T) {
	h, _ := newHandler(t)
	assert.Equal(t, h.config.Server, "nats://127.0.0.1:4222")
	assert.Equal(t, h.Subject(msg.Step), "feeder13.step")
	assert.Equal(t, h.Subject(msg.Control), "feeder13.control")

	_, err := New("./missing.json", msg.NewPublisher(uuid.New()))
	assert.Assert(t, err != nil)
}

func TestEncode(t *testing.T) {
	pid, _ := uuid.NewUUID()
	data, err := Encode(msg.New(pid, msg.Control, map[string]int{"reg1": 3}))
	assert.NilError(t, err)

	var out struct {
		Sender  string
		Topic   string
		Payload map[string]int
	}
	assert.NilError(t, json.Unmarshal(data, &out))
	assert.Equal(t, out.Sender, pid.String())
	assert.Equal(t, out.Topic, "control")
	assert.Equal(t, out.Payload["reg1"], 3)
}

func TestSubscribesEveryTopic(t *testing.T) {
	h, pub := newHandler(t)
	pub.Publish(msg.Step, 1)
	pub.Publish(msg.Control, 2)
	pub.Publish(msg.Step, 3)
	pub.Publish(msg.Episode, 4)

	topics := []msg.Topic{msg.Step, msg.Control, msg.Step, msg.Episode}
	for i, topic := range topics {
		m := <-h.inbox
		assert.Equal(t, m.Topic(), topic)
		assert.Equal(t, m.Payload(), i+1)
	}

	pub.Close()
	_, ok := <-h.inbox
	assert.Assert(t, !ok)
}

func TestNatsConnector(t *testing.T) {
	h, pub := newHandler(t)
	nc, err := nats.Connect(h.config.Server)
	if err != nil {
		t.Skipf("no nats server: %v", err)
	}
	defer nc.Close()

	got := make(chan *nats.Msg, 1)
	_, err = nc.Subscribe(h.Subject(msg.Step), func(m *nats.Msg) {
		got <- m
	})
	assert.NilError(t, err)
	assert.NilError(t, nc.Flush())

	done := make(chan error)
	go func() { done <- h.Process() }()
	time.Sleep(100 * time.Millisecond)
	pub.Publish(msg.Step, map[string]float64{"650": 1.01})

	select {
	case m := <-got:
		assert.Assert(t, len(m.Data) > 0)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	h.Stop()
	assert.NilError(t, <-done)
}
