package job

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseAction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"SETUP", ActionSetup, false},
		{"run", ActionRun, false},
		{" Progress ", ActionProgress, false},
		{"cancel", ActionCancel, false},
		{"DATA", ActionData, false},
		{"DELETE", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAction(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAction(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAction(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStatus_Stable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status Status
		stable bool
	}{
		{StatusNew, true},
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusComplete, true},
		{StatusError, true},
	}

	for _, tt := range tests {
		if got := tt.status.Stable(); got != tt.stable {
			t.Errorf("%s.Stable() = %v, want %v", tt.status, got, tt.stable)
		}
		if got := tt.status.Submitted(); got == tt.stable {
			t.Errorf("%s.Submitted() = %v, want %v", tt.status, got, !tt.stable)
		}
	}
}

func TestJob_Parameters(t *testing.T) {
	t.Parallel()
	j := &Job{
		Families: []Family{
			{Name: "physics", Parameters: []Parameter{
				{Name: "viscosity_phase_1", Value: "0.007"},
				{Name: "density", Value: "1000"},
			}},
			{Name: "mesh", Parameters: []Parameter{
				{Name: "cells", Value: "64"},
				{Name: "density", Value: "998"},
			}},
		},
	}

	got := j.Parameters()
	want := map[string]string{"viscosity_phase_1": "0.007", "density": "998", "cells": "64"}
	if len(got) != len(want) {
		t.Fatalf("Parameters() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Parameters()[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestJob_Script_FirstMatchWins(t *testing.T) {
	t.Parallel()
	j := &Job{Scripts: []Script{
		{Action: ActionSetup, SourceURI: "scripts/setup.sh"},
		{Action: ActionRun, SourceURI: "scripts/run.sh"},
		{Action: ActionRun, SourceURI: "scripts/run_again.sh"},
	}}

	s, ok := j.Script(ActionRun)
	if !ok || s.SourceURI != "scripts/run.sh" {
		t.Errorf("Script(RUN) = %+v, %v; want scripts/run.sh", s, ok)
	}
	if _, ok := j.Script(ActionCancel); ok {
		t.Error("Script(CANCEL) should not be found")
	}
}

func TestJob_Clone_IsDeep(t *testing.T) {
	t.Parallel()
	j := &Job{
		ID:       "j1",
		Case:     &CaseSummary{Label: "Blue Blood"},
		Families: []Family{{Name: "f", Parameters: []Parameter{{Name: "a", Value: "1"}}}},
		Scripts:  []Script{{Action: ActionRun, SourceURI: "run.sh"}},
	}

	c := j.Clone()
	c.Case.Label = "changed"
	c.Families[0].Parameters[0].Value = "2"
	c.Scripts[0].SourceURI = "other.sh"

	if j.Case.Label != "Blue Blood" || j.Families[0].Parameters[0].Value != "1" || j.Scripts[0].SourceURI != "run.sh" {
		t.Errorf("Clone() shares state with the original: %+v", j)
	}
}

func TestJob_Clone_EnabledAndEmptySlices(t *testing.T) {
	t.Parallel()
	enabled := true
	j := &Job{
		ID:       "j1",
		Families: []Family{{Name: "f", Parameters: []Parameter{{Name: "a", Enabled: &enabled}}}},
		Scripts:  []Script{},
		Inputs:   []Input{},
	}

	c := j.Clone()
	*c.Families[0].Parameters[0].Enabled = false
	if !*j.Families[0].Parameters[0].Enabled {
		t.Error("Clone() shares Parameter.Enabled with the original")
	}

	if c.Scripts == nil || c.Inputs == nil {
		t.Errorf("Clone() turned empty slices into nil: scripts=%v inputs=%v", c.Scripts, c.Inputs)
	}
	if c.Templates != nil {
		t.Errorf("Clone() invented templates: %v", c.Templates)
	}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"scripts":[]`) {
		t.Errorf("expected empty scripts to marshal as [], got %s", data)
	}
}

func TestJob_JSONWireNames(t *testing.T) {
	t.Parallel()
	doc := `{
		"id": "abc",
		"status": "Queued",
		"backend_identifier": "5305301.cx1b",
		"case": {"id": "c1", "label": "Blue Blood"},
		"families": [{"name": "f", "parameters": [{"name": "n", "value": "v", "type_value": "float"}]}],
		"templates": [{"source_uri": "t.in", "destination_path": "inputs"}],
		"scripts": [{"action": "RUN", "source_uri": "run.sh", "destination_path": "scripts"}],
		"inputs": []
	}`

	var j Job
	if err := json.Unmarshal([]byte(doc), &j); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if j.BackendIdentifier != "5305301.cx1b" || j.Status != StatusQueued {
		t.Errorf("unexpected status fields: %+v", j)
	}
	if j.CaseLabel() != "Blue Blood" {
		t.Errorf("CaseLabel() = %q", j.CaseLabel())
	}
	if j.Templates[0].DestinationPath != "inputs" || j.Scripts[0].Action != ActionRun {
		t.Errorf("unexpected files: %+v %+v", j.Templates, j.Scripts)
	}
	if j.Families[0].Parameters[0].TypeValue != "float" {
		t.Errorf("type_value not decoded: %+v", j.Families[0].Parameters[0])
	}
}
