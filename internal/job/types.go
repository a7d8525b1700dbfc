// Package job defines the Job aggregate, its lifecycle enums and the repository
// contract the execution core persists through.
package job

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Action names a lifecycle operation a job script can implement.
type Action string

// Known actions. The set is closed: anything else is rejected by ParseAction.
const (
	ActionSetup    Action = "SETUP"
	ActionRun      Action = "RUN"
	ActionProgress Action = "PROGRESS"
	ActionCancel   Action = "CANCEL"
	ActionData     Action = "DATA"
)

// Actions lists every known action in dispatch-table order.
var Actions = []Action{ActionSetup, ActionRun, ActionProgress, ActionCancel, ActionData}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionSetup, ActionRun, ActionProgress, ActionCancel, ActionData:
		return true
	}
	return false
}

func (a Action) String() string {
	return string(a)
}

// ParseAction converts a case-insensitive action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Status is the locally held lifecycle status of a job.
type Status string

// Lifecycle: New -> Queued -> Running -> Complete, with Error set externally.
const (
	StatusNew      Status = "New"
	StatusQueued   Status = "Queued"
	StatusRunning  Status = "Running"
	StatusComplete Status = "Complete"
	StatusError    Status = "Error"
)

// Stable reports whether no reconciliation should be attempted from s.
func (s Status) Stable() bool {
	return s == StatusNew || s == StatusComplete || s == StatusError
}

// Submitted reports whether the remote scheduler has accepted the job and not
// yet been observed to finish it.
func (s Status) Submitted() bool {
	return s == StatusQueued || s == StatusRunning
}

// Job is one submitted unit of work.
type Job struct {
	ID                string       `json:"id" yaml:"id"`
	Name              string       `json:"name,omitempty" yaml:"name,omitempty"`
	Description       string       `json:"description,omitempty" yaml:"description,omitempty"`
	User              string       `json:"user,omitempty" yaml:"user,omitempty"`
	URI               string       `json:"uri,omitempty" yaml:"uri,omitempty"`
	Status            Status       `json:"status" yaml:"status"`
	BackendIdentifier string       `json:"backend_identifier" yaml:"backend_identifier"`
	CreationDatetime  *time.Time   `json:"creation_datetime,omitempty" yaml:"creation_datetime,omitempty"`
	StartDatetime     *time.Time   `json:"start_datetime,omitempty" yaml:"start_datetime,omitempty"`
	EndDatetime       *time.Time   `json:"end_datetime,omitempty" yaml:"end_datetime,omitempty"`
	Case              *CaseSummary `json:"case,omitempty" yaml:"case,omitempty"`
	Families          []Family     `json:"families" yaml:"families"`
	Templates         []Template   `json:"templates" yaml:"templates"`
	Scripts           []Script     `json:"scripts" yaml:"scripts"`
	Inputs            []Input      `json:"inputs" yaml:"inputs"`
}

// CaseSummary is the case a job was instantiated from.
type CaseSummary struct {
	ID          string `json:"id" yaml:"id"`
	URI         string `json:"uri,omitempty" yaml:"uri,omitempty"`
	Label       string `json:"label" yaml:"label"`
	Thumbnail   string `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Family groups related parameters for presentation.
type Family struct {
	Name       string      `json:"name" yaml:"name"`
	Label      string      `json:"label,omitempty" yaml:"label,omitempty"`
	Collapse   bool        `json:"collapse,omitempty" yaml:"collapse,omitempty"`
	Parameters []Parameter `json:"parameters" yaml:"parameters"`
}

// Parameter is one named value substituted into templates. Everything but
// Name and Value is descriptive.
type Parameter struct {
	Name      string `json:"name" yaml:"name"`
	Value     string `json:"value" yaml:"value"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	Help      string `json:"help,omitempty" yaml:"help,omitempty"`
	Units     string `json:"units,omitempty" yaml:"units,omitempty"`
	Type      string `json:"type,omitempty" yaml:"type,omitempty"`
	TypeValue string `json:"type_value,omitempty" yaml:"type_value,omitempty"`
	MinValue  string `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	MaxValue  string `json:"max_value,omitempty" yaml:"max_value,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Template is a file rendered with the job's parameters before transfer.
// An empty DestinationPath means the working directory itself.
type Template struct {
	SourceURI       string `json:"source_uri" yaml:"source_uri"`
	DestinationPath string `json:"destination_path" yaml:"destination_path"`
}

// Script is a host-resident script implementing one action.
type Script struct {
	Action          Action `json:"action" yaml:"action"`
	SourceURI       string `json:"source_uri" yaml:"source_uri"`
	DestinationPath string `json:"destination_path" yaml:"destination_path"`
}

// Input is a file transferred verbatim.
type Input struct {
	SourceURI       string `json:"source_uri" yaml:"source_uri"`
	DestinationPath string `json:"destination_path" yaml:"destination_path"`
}

// CaseLabel returns the label used to name the working directory, or "" when
// the job carries no case.
func (j *Job) CaseLabel() string {
	if j.Case == nil {
		return ""
	}
	return j.Case.Label
}

// Parameters flattens every family into one name -> value mapping.
// Duplicate names across families are not supported; the last one seen wins.
func (j *Job) Parameters() map[string]string {
	params := make(map[string]string)
	for _, f := range j.Families {
		for _, p := range f.Parameters {
			params[p.Name] = p.Value
		}
	}
	return params
}

// Script returns the first script tagged with action.
func (j *Job) Script(action Action) (Script, bool) {
	for _, s := range j.Scripts {
		if s.Action == action {
			return s, true
		}
	}
	return Script{}, false
}

// Clone returns a deep copy, so repositories never share slices with callers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Case != nil {
		cs := *j.Case
		c.Case = &cs
	}
	c.CreationDatetime = cloneTime(j.CreationDatetime)
	c.StartDatetime = cloneTime(j.StartDatetime)
	c.EndDatetime = cloneTime(j.EndDatetime)
	c.Families = slices.Clone(j.Families)
	for i := range c.Families {
		params := slices.Clone(c.Families[i].Parameters)
		for k := range params {
			if params[k].Enabled != nil {
				enabled := *params[k].Enabled
				params[k].Enabled = &enabled
			}
		}
		c.Families[i].Parameters = params
	}
	// Empty slices stay non-nil so they still marshal as [].
	c.Templates = slices.Clone(j.Templates)
	c.Scripts = slices.Clone(j.Scripts)
	c.Inputs = slices.Clone(j.Inputs)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
