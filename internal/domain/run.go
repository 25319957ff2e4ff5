package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Run represents one invocation of a multi-target operation.
type Run struct {
	RunID     string          `json:"run_id"`
	Spec      RunSpec         `json:"spec"`
	Status    RunStatus       `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// RunSpec is the immutable specification submitted to create a run.
type RunSpec struct {
	Title    string            `json:"title,omitempty" yaml:"title,omitempty"`
	Prompt   string            `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Targets  []Target          `json:"targets" yaml:"targets"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Target describes one sub-task of a run, e.g. one model backend to race or one
// image to generate.
type Target struct {
	ItemID  string `json:"item_id,omitempty" yaml:"item_id,omitempty"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty"`
	Backend string `json:"backend" yaml:"backend"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
	Input   string `json:"input,omitempty" yaml:"input,omitempty"`
}

// GroupKey identifies equivalent sub-tasks. Two targets with the same backend,
// model and input would compute the same thing.
func (t Target) GroupKey() string {
	return t.Backend + "/" + t.Model + "/" + t.Input
}

// Dedupe returns a copy of the spec where later targets sharing a group key with
// an earlier one are dropped and missing item ids are filled in.
func (s RunSpec) Dedupe() RunSpec {
	out := s
	out.Targets = make([]Target, 0, len(s.Targets))
	seenKeys := make(map[string]bool, len(s.Targets))
	seenIDs := make(map[string]bool, len(s.Targets))
	for _, t := range s.Targets {
		key := t.GroupKey()
		if seenKeys[key] {
			continue
		}
		seenKeys[key] = true
		out.Targets = append(out.Targets, t)
		if t.ItemID != "" {
			seenIDs[t.ItemID] = true
		}
	}

	n := 0
	for i := range out.Targets {
		if out.Targets[i].ItemID != "" {
			continue
		}
		for {
			n++
			id := fmt.Sprintf("item_%d", n)
			if !seenIDs[id] {
				out.Targets[i].ItemID = id
				seenIDs[id] = true
				break
			}
		}
	}
	return out
}

// Validate checks the structural requirements of a spec.
func (s RunSpec) Validate() error {
	if len(s.Targets) == 0 {
		return fmt.Errorf("spec must contain at least one target")
	}
	ids := make(map[string]bool, len(s.Targets))
	for i, t := range s.Targets {
		if t.Backend == "" {
			return fmt.Errorf("targets[%d].backend is required", i)
		}
		if t.ItemID != "" {
			if ids[t.ItemID] {
				return fmt.Errorf("duplicate item_id %q", t.ItemID)
			}
			ids[t.ItemID] = true
		}
	}
	return nil
}
