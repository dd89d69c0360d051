// Package editscript loads YAML edit scripts and applies them to packets.
//
// A script is a list of steps run in order against every packet:
//
//	on_error: drop
//	ops:
//	  - op: strip_to
//	    protocol: ipv4
//	  - op: append_payload
//	    hex: "de ad be ef"
//	  - op: recompute
//
// A step whose target layer is missing from a packet is skipped.
package editscript

import (
	"fmt"
	"os"
	"sort"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"firestige.xyz/pktedit/internal/core"
	"firestige.xyz/pktedit/internal/metrics"
	"firestige.xyz/pktedit/pkg/packet"
)

// ErrorPolicy tells the caller what to do with a packet a step rejected.
type ErrorPolicy string

const (
	// OnErrorDrop discards the packet and carries on.
	OnErrorDrop ErrorPolicy = "drop"
	// OnErrorKeep keeps the packet as far as it got.
	OnErrorKeep ErrorPolicy = "keep"
	// OnErrorAbort stops processing.
	OnErrorAbort ErrorPolicy = "abort"
)

// Step is one edit operation.
type Step interface {
	// Name returns the op name used in scripts.
	Name() string
	// Apply edits p. skipped reports that p had nothing to act on.
	Apply(p *packet.Packet) (skipped bool, err error)
}

// validator is implemented by steps that check their arguments after
// decoding.
type validator interface {
	validate() error
}

var steps = map[string]func() Step{
	"remove_layer":   func() Step { return &RemoveLayer{} },
	"extend_layer":   func() Step { return &ExtendLayer{} },
	"shorten_layer":  func() Step { return &ShortenLayer{} },
	"insert_payload": func() Step { return &InsertPayload{} },
	"append_payload": func() Step { return &AppendPayload{} },
	"strip_to":       func() Step { return &StripTo{} },
	"insert_vlan":    func() Step { return &InsertVLAN{} },
	"pop_vlan":       func() Step { return &PopVLAN{} },
	"recompute":      func() Step { return &Recompute{} },
}

// Ops returns the names of every supported op.
func Ops() []string {
	names := make([]string, 0, len(steps))
	for name := range steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Script is an ordered list of steps.
type Script struct {
	OnError ErrorPolicy
	Steps   []Step
}

type scriptFile struct {
	OnError string           `yaml:"on_error"`
	Ops     []map[string]any `yaml:"ops"`
}

// Load reads a script from path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read edit script: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("edit script %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a script from YAML.
func Parse(data []byte) (*Script, error) {
	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}

	s := &Script{OnError: ErrorPolicy(f.OnError)}
	switch s.OnError {
	case "":
		s.OnError = OnErrorDrop
	case OnErrorDrop, OnErrorKeep, OnErrorAbort:
	default:
		return nil, fmt.Errorf("%w: on_error %q (must be drop/keep/abort)", core.ErrInvalidArgument, f.OnError)
	}

	for i, raw := range f.Ops {
		step, err := decodeStep(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: op %d: %v", core.ErrInvalidArgument, i, err)
		}
		s.Steps = append(s.Steps, step)
	}
	return s, nil
}

func decodeStep(raw map[string]any) (Step, error) {
	name, _ := raw["op"].(string)
	newStep, ok := steps[name]
	if !ok {
		return nil, fmt.Errorf("unknown op %q", name)
	}
	args := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != "op" {
			args[k] = v
		}
	}

	step := newStep()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           step,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(args); err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	if v, ok := step.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%s: %v", name, err)
		}
	}
	return step, nil
}

// Apply runs every step against p and stops at the first rejected one.
func (s *Script) Apply(p *packet.Packet) error {
	for i, step := range s.Steps {
		skipped, err := step.Apply(p)
		metrics.RecordEdit(step.Name(), skipped, err)
		if err != nil {
			return fmt.Errorf("op %d (%s): %w", i, step.Name(), err)
		}
	}
	return nil
}
