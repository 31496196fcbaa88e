package natshandler

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/ohowland/vvc_core/internal/pkg/msg"
	log "github.com/sirupsen/logrus"

	nats "github.com/nats-io/nats.go"
)

// Handler forwards step records, control events and day summaries to NATS
// subjects "<Subject>.step", "<Subject>.control" and "<Subject>.episode".
type Handler struct {
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	Server  string `json:"Server"`
	Subject string `json:"Subject"`
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func readConfig(configPath string) (config, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return config{}, err
	}
	cfg := config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return config{}, err
	}
	if cfg.Server == "" {
		cfg.Server = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "vvc"
	}
	return cfg, nil
}

// New subscribes a handler to system. Process must be started to drain it.
func New(configPath string, system msg.Publisher) (Handler, error) {
	cfg, err := readConfig(configPath)
	if err != nil {
		return Handler{}, err
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}

	inbox, err := system.Subscribe(pid, msg.Step, msg.Control, msg.Episode)
	if err != nil {
		return Handler{}, err
	}

	return Handler{
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   make(chan bool, 1),
	}, nil
}

// Stop ends Process.
func (h *Handler) Stop() {
	h.stop <- true
}

// Subject is the NATS subject a topic is published on.
func (h Handler) Subject(topic msg.Topic) string {
	return h.config.Subject + "." + topic.String()
}

// Encode renders a message as the bytes published to NATS.
func Encode(m msg.Msg) ([]byte, error) {
	return json.Marshal(struct {
		Sender  string      `json:"Sender"`
		Topic   string      `json:"Topic"`
		Payload interface{} `json:"Payload"`
	}{m.PID().String(), m.Topic().String(), m.Payload()})
}

// Process connects to the server and publishes until Stop.
func (h Handler) Process() error {
	log.Println("[NATS client] Process Started")
	nc, err := nats.Connect(h.config.Server)
	if err != nil {
		return err
	}
	defer nc.Close()

loop:
	for {
		select {
		case m, ok := <-h.inbox:
			if !ok {
				break loop
			}
			data, err := Encode(m)
			if err != nil {
				log.Warnf("[NATS client] encode %s: %v", m.Topic(), err)
				continue
			}
			if err = nc.Publish(h.Subject(m.Topic()), data); err != nil {
				log.Printf("[NATS client] unable to publish to nats server: %v", err)
			}

		case <-h.stop:
			if err := nc.Flush(); err != nil {
				log.Warnf("[NATS client] flush: %v", err)
			}
			break loop
		}
	}
	log.Println("[NATS client] Process Shutdown")
	return nil
}
