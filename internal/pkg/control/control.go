package control

import (
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Severity grades a control event.
type Severity int

const (
	Normal Severity = iota
	Degraded
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Normal:
		return "normal"
	case Degraded:
		return "degraded"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Reasons carried by events. Reasons are short codes; free text goes in
// Event.Detail.
const (
	UnderVoltage  = "UNDER_VOLTAGE"
	OverVoltage   = "OVER_VOLTAGE"
	TapLimit      = "TAP_LIMIT"
	PolicyAction  = "POLICY_ACTION"
	ModelMissing  = "MODEL_MISSING"
	PredictFailed = "PREDICT_FAILED"
	DecodeFailed  = "DECODE_FAILED"
)

// Event is one entry of a controller's action log. Episode is stamped by the
// day runner and is uuid.Nil outside one.
type Event struct {
	Episode   uuid.UUID `json:"Episode"`
	Severity  Severity  `json:"Severity"`
	Step      int       `json:"Step"`
	Regulator string    `json:"Regulator"`
	OldTap    int       `json:"OldTap"`
	NewTap    int       `json:"NewTap"`
	Reason    string    `json:"Reason"`
	Detail    string    `json:"Detail,omitempty"`
}

// Fields renders the event for structured logging.
func (e Event) Fields() log.Fields {
	f := log.Fields{
		"severity":  e.Severity.String(),
		"step":      e.Step,
		"regulator": e.Regulator,
		"old_tap":   e.OldTap,
		"new_tap":   e.NewTap,
		"reason":    e.Reason,
	}
	if e.Episode != uuid.Nil {
		f["episode"] = e.Episode
	}
	if e.Detail != "" {
		f["detail"] = e.Detail
	}
	return f
}

func (e Event) String() string {
	if e.Severity == Normal {
		return fmt.Sprintf("step %d: %s tap %d -> %d (%s)", e.Step, e.Regulator, e.OldTap, e.NewTap, e.Reason)
	}
	if e.Detail != "" {
		return fmt.Sprintf("step %d: %s %s at tap %d (%s: %s)", e.Step, e.Severity, e.Regulator, e.OldTap, e.Reason, e.Detail)
	}
	return fmt.Sprintf("step %d: %s %s at tap %d (%s)", e.Step, e.Severity, e.Regulator, e.OldTap, e.Reason)
}

// Log writes the event at the level matching its severity.
func (e Event) Log(tag string) {
	entry := log.WithFields(e.Fields())
	switch e.Severity {
	case Normal:
		entry.Info(tag)
	case Degraded:
		entry.Warn(tag)
	default:
		entry.Error(tag)
	}
}

// Result is what one controller invocation did.
type Result struct {
	Events []Event
	Acted  bool
}

// Controller acts on a solver once per control step.
type Controller interface {
	CheckAndAct(step int) Result
}

// Noop is a Controller that never acts.
type Noop struct{}

func (Noop) CheckAndAct(step int) Result {
	return Result{}
}
