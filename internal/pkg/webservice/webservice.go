/*
webservice.go HTTP API over an Inspector. Studies share one solver, so they
run one at a time. Control events and run summaries are also streamed to
websocket clients on /stream.
*/

package webservice

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/ohowland/vvc_core/internal/pkg/inspect"
	"github.com/ohowland/vvc_core/internal/pkg/msg"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	"github.com/ohowland/vvc_core/internal/pkg/topology"
	log "github.com/sirupsen/logrus"
)

const contentType = "application/json; charset=UTF-8"

// FeederSummary is the body of GET /.
type FeederSummary struct {
	Name       string   `json:"Name"`
	SourceBus  string   `json:"SourceBus"`
	Buses      int      `json:"Buses"`
	Regulators []string `json:"Regulators"`
}

// ChainResponse is the body of GET /bus/{id}/chain.
type ChainResponse struct {
	Bus      string   `json:"Bus"`
	Element  string   `json:"Element"`
	Elements []string `json:"Elements"`
	Chain    []string `json:"Chain"`
}

// RunSummary is published on msg.Episode after every inspection.
type RunSummary struct {
	Target          string         `json:"Target"`
	Active          bool           `json:"Active"`
	RegulationSteps []int          `json:"RegulationSteps"`
	FinalTaps       map[string]int `json:"FinalTaps"`
	PeakPowerKW     float64        `json:"PeakPowerKW"`
}

type errorBody struct {
	Error string `json:"Error"`
}

// Service serves one Inspector.
type Service struct {
	pid       uuid.UUID
	mux       *sync.Mutex
	inspector *inspect.Inspector
	defaults  inspect.Options
	publisher *msg.PubSub
	upgrader  websocket.Upgrader
}

// New returns a Service. defaults fill the options of GET /analysis.
func New(inspector *inspect.Inspector, defaults inspect.Options) (*Service, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	return &Service{
		pid:       pid,
		mux:       &sync.Mutex{},
		inspector: inspector,
		defaults:  defaults,
		publisher: msg.NewPublisher(pid),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}, nil
}

// Publisher carries the events of every inspection.
func (s *Service) Publisher() msg.Publisher {
	return s.publisher
}

// Close disconnects every stream.
func (s *Service) Close() {
	s.publisher.Close()
}

// Router builds the route table.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.BaseHandler).Methods("GET")
	r.HandleFunc("/bus/{id}/chain", s.ChainHandler).Methods("GET")
	r.HandleFunc("/bus/{id}/inspect", s.InspectHandler).Methods("POST")
	r.HandleFunc("/analysis", s.AnalysisHandler).Methods("GET")
	r.HandleFunc("/memory", s.MemoryHandler).Methods("GET", "DELETE")
	r.HandleFunc("/stream", s.StreamHandler).Methods("GET")
	return r
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", contentType)
	body, err := json.Marshal(v)
	if err != nil {
		log.Println("[Webservice] malformed JSON:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		log.Println("[Webservice] write:", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, topology.ErrUnknownBus), errors.Is(err, network.ErrUnknownBus):
		code = http.StatusNotFound
	case errors.Is(err, inspect.ErrNoControllingElement), errors.Is(err, topology.ErrUnreachable):
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, errorBody{err.Error()})
}

func (s *Service) BaseHandler(w http.ResponseWriter, r *http.Request) {
	def := s.inspector.Network()
	writeJSON(w, http.StatusOK, FeederSummary{
		Name:       def.Name,
		SourceBus:  def.SourceBus,
		Buses:      len(def.Buses),
		Regulators: def.RegulatorNames(),
	})
}

func (s *Service) ChainHandler(w http.ResponseWriter, r *http.Request) {
	bus := network.BusID(mux.Vars(r)["id"])
	chain, err := s.inspector.Chain(bus)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := ChainResponse{Bus: bus, Chain: chain, Elements: make([]string, 0)}
	def := s.inspector.Network()
	for _, e := range def.ElementsAtBus(bus) {
		resp.Elements = append(resp.Elements, e.String())
	}
	if e, _, err := inspect.ControllingElement(def, bus); err == nil {
		resp.Element = e.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) InspectHandler(w http.ResponseWriter, r *http.Request) {
	bus := mux.Vars(r)["id"]
	opts := s.defaults
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{"malformed JSON: " + err.Error()})
			return
		}
	}

	s.mux.Lock()
	report, err := s.inspector.RunForBus(bus, opts)
	s.mux.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}

	for _, e := range report.Events {
		s.publisher.Publish(msg.Control, e)
	}
	s.publisher.Publish(msg.Episode, RunSummary{
		Target:          report.Target,
		Active:          opts.Active,
		RegulationSteps: report.RegulationSteps,
		FinalTaps:       report.FinalTaps,
		PeakPowerKW:     report.PeakPowerKW,
	})
	log.WithFields(log.Fields{"bus": report.Target, "active": opts.Active, "actions": len(report.RegulationSteps)}).Info("[Webservice] inspection done")
	writeJSON(w, http.StatusOK, report)
}

// queryOptions overlays day, pv, temp and load query parameters on defaults.
func queryOptions(r *http.Request, opts inspect.Options) (inspect.Options, error) {
	q := r.URL.Query()
	if v := q.Get("day"); v != "" {
		day, err := strconv.Atoi(v)
		if err != nil {
			return opts, err
		}
		opts.Day = day
	}
	if v := q.Get("pv"); v != "" {
		pv, err := strconv.ParseBool(v)
		if err != nil {
			return opts, err
		}
		opts.PVEnabled = pv
	}
	if v := q.Get("temp"); v != "" {
		temp, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, err
		}
		opts.Temperature = temp
	}
	if v := q.Get("load"); v != "" {
		kw, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, err
		}
		opts.TestLoadKW = kw
	}
	return opts, nil
}

func (s *Service) AnalysisHandler(w http.ResponseWriter, r *http.Request) {
	opts, err := queryOptions(r, s.defaults)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{err.Error()})
		return
	}

	s.mux.Lock()
	analysis, err := s.inspector.AnalyzeViolations(opts)
	s.mux.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Service) MemoryHandler(w http.ResponseWriter, r *http.Request) {
	store := s.inspector.Memory()
	switch r.Method {
	case "GET":
		taps, err := store.Load()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, taps)

	case "DELETE":
		if err := store.Clear(); err != nil {
			writeError(w, err)
			return
		}
		log.Println("[Webservice] tap memory cleared")
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

// streamFrame is one websocket text frame.
type streamFrame struct {
	Topic   string      `json:"Topic"`
	Payload interface{} `json:"Payload"`
}

// StreamHandler upgrades to a websocket and forwards control events and run
// summaries until the client goes away.
func (s *Service) StreamHandler(w http.ResponseWriter, r *http.Request) {
	pid, err := uuid.NewUUID()
	if err != nil {
		writeError(w, err)
		return
	}
	inbox, err := s.publisher.Subscribe(pid, msg.Control, msg.Episode)
	if err != nil {
		writeError(w, err)
		return
	}
	defer s.publisher.Unsubscribe(pid)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[Webservice] upgrade:", err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case m, ok := <-inbox:
			if !ok {
				return
			}
			if err := conn.WriteJSON(streamFrame{m.Topic().String(), m.Payload()}); err != nil {
				log.Println("[Webservice] stream:", err)
				return
			}
		case <-gone:
			return
		}
	}
}
