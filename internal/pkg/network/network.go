/*
network.go Static description of a radial distribution feeder. A Network is the
definition a Solver compiles; it is never mutated by the control core.
*/

package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrUnknownBus is returned when a query names a bus that is not in the network.
	ErrUnknownBus = errors.New("network: unknown bus")

	// ErrUnknownRegulator is returned when a query names a regulator control that does not exist.
	ErrUnknownRegulator = errors.New("network: unknown regulator")

	// ErrNotCompiled is returned by solver queries issued before Compile.
	ErrNotCompiled = errors.New("network: no network compiled")

	// ErrNoSource is returned when a network definition does not declare its feeder head.
	ErrNoSource = errors.New("network: source bus not declared")
)

// Tap limits of a step-voltage regulator.
const (
	MinTap = -16
	MaxTap = 16
)

// ElementKind identifies the class of a power delivery element.
type ElementKind string

const (
	LineKind        ElementKind = "Line"
	TransformerKind ElementKind = "Transformer"
)

// Element is a fully qualified reference to a power delivery element, e.g. Transformer.reg1a.
type Element struct {
	Kind ElementKind
	Name string
}

func (e Element) String() string {
	return string(e.Kind) + "." + e.Name
}

// IsTransformer reports whether the element is a transformer.
func (e Element) IsTransformer() bool {
	return e.Kind == TransformerKind
}

// Bus is a node of the feeder.
type Bus struct {
	ID        string  `json:"ID"`
	Phases    []int   `json:"Phases"`
	KVBase    float64 `json:"KVBase"` // phase (line-to-neutral) base, kV
	X         float64 `json:"X"`
	Y         float64 `json:"Y"`
	HasCoords bool    `json:"HasCoords"`
}

type Line struct {
	Name   string  `json:"Name"`
	Bus1   string  `json:"Bus1"`
	Bus2   string  `json:"Bus2"`
	Phases int     `json:"Phases"`
	R      float64 `json:"R"` // ohms
	X      float64 `json:"X"` // ohms
}

type Transformer struct {
	Name  string   `json:"Name"`
	Buses []string `json:"Buses"`
	KVA   float64  `json:"KVA"`
}

// RegControl is the tap-changing control owned by a transformer.
type RegControl struct {
	Name        string  `json:"Name"`
	Transformer string  `json:"Transformer"`
	Tap         int     `json:"Tap"`
	BandLowPU   float64 `json:"BandLowPU"`
	BandHighPU  float64 `json:"BandHighPU"`
}

type PVSystem struct {
	Name   string  `json:"Name"`
	Bus    string  `json:"Bus"`
	PmppKW float64 `json:"PmppKW"`
}

type Load struct {
	Name string  `json:"Name"`
	Bus  string  `json:"Bus"`
	KW   float64 `json:"KW"`
	KVAR float64 `json:"KVAR"`
}

// Network is the complete feeder definition.
type Network struct {
	Name         string        `json:"Name"`
	SourceBus    string        `json:"SourceBus"`
	SourcePU     float64       `json:"SourcePU"`
	Buses        []Bus         `json:"Buses"`
	Lines        []Line        `json:"Lines"`
	Transformers []Transformer `json:"Transformers"`
	RegControls  []RegControl  `json:"RegControls"`
	PVSystems    []PVSystem    `json:"PVSystems"`
	Loads        []Load        `json:"Loads"`
}

// LoadFile reads a network definition from a JSON file.
func LoadFile(path string) (Network, error) {
	jsonConfig, err := os.ReadFile(path)
	if err != nil {
		return Network{}, err
	}
	return Parse(jsonConfig)
}

// Parse decodes and validates a JSON network definition.
func Parse(jsonConfig []byte) (Network, error) {
	net := Network{}
	if err := json.Unmarshal(jsonConfig, &net); err != nil {
		return Network{}, err
	}
	if err := net.Validate(); err != nil {
		return Network{}, err
	}
	return net, nil
}

// Validate checks the structural invariants every solver relies on.
func (n Network) Validate() error {
	if n.SourceBus == "" {
		return ErrNoSource
	}
	if _, ok := n.Bus(n.SourceBus); !ok {
		return fmt.Errorf("source %q: %w", n.SourceBus, ErrUnknownBus)
	}
	for _, l := range n.Lines {
		for _, b := range []string{l.Bus1, l.Bus2} {
			if _, ok := n.Bus(BusID(b)); !ok {
				return fmt.Errorf("line %s bus %q: %w", l.Name, b, ErrUnknownBus)
			}
		}
	}
	for _, t := range n.Transformers {
		for _, b := range t.Buses {
			if _, ok := n.Bus(BusID(b)); !ok {
				return fmt.Errorf("transformer %s bus %q: %w", t.Name, b, ErrUnknownBus)
			}
		}
	}
	for _, r := range n.RegControls {
		if _, ok := n.Transformer(r.Transformer); !ok {
			return fmt.Errorf("regcontrol %s: transformer %q not found", r.Name, r.Transformer)
		}
		if r.Tap < MinTap || r.Tap > MaxTap {
			return fmt.Errorf("regcontrol %s: tap %d outside [%d,%d]", r.Name, r.Tap, MinTap, MaxTap)
		}
	}
	return nil
}

// Bus looks up a bus by id.
func (n Network) Bus(id string) (Bus, bool) {
	for _, b := range n.Buses {
		if b.ID == id {
			return b, true
		}
	}
	return Bus{}, false
}

// Transformer looks up a transformer by name.
func (n Network) Transformer(name string) (Transformer, bool) {
	for _, t := range n.Transformers {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Transformer{}, false
}

// RegulatorNames returns the regulator controls in enumeration order.
func (n Network) RegulatorNames() []string {
	names := make([]string, 0, len(n.RegControls))
	for _, r := range n.RegControls {
		names = append(names, r.Name)
	}
	return names
}

// ElementBuses returns the terminal buses of a line or transformer, phase suffixes stripped.
func (n Network) ElementBuses(e Element) ([]string, bool) {
	switch e.Kind {
	case LineKind:
		for _, l := range n.Lines {
			if strings.EqualFold(l.Name, e.Name) {
				return []string{BusID(l.Bus1), BusID(l.Bus2)}, true
			}
		}
	case TransformerKind:
		if t, ok := n.Transformer(e.Name); ok {
			buses := make([]string, len(t.Buses))
			for i, b := range t.Buses {
				buses[i] = BusID(b)
			}
			return buses, true
		}
	}
	return nil, false
}

// ElementsAtBus returns every line then every transformer terminated at the bus.
func (n Network) ElementsAtBus(id string) []Element {
	elems := make([]Element, 0)
	for _, l := range n.Lines {
		if BusID(l.Bus1) == id || BusID(l.Bus2) == id {
			elems = append(elems, Element{LineKind, l.Name})
		}
	}
	for _, t := range n.Transformers {
		for _, b := range t.Buses {
			if BusID(b) == id {
				elems = append(elems, Element{TransformerKind, t.Name})
				break
			}
		}
	}
	return elems
}

// BusID strips the phase designation from a bus reference: "13.1.2.3" -> "13".
func BusID(ref string) string {
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		return ref[:i]
	}
	return ref
}
