package job

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"simgateway/internal/apperrors"
)

// Validation limits
const (
	maxJobIDLength  = 128
	maxFamilies     = 64
	maxParameters   = 512
	maxFileEntries  = 256
	maxCaseLabelLen = 128
)

// jobIDPattern allows alphanumeric, hyphens, and underscores
var jobIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// parameterNamePattern is what a template placeholder can reference.
var parameterNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Validate checks a job document before it is stored. An empty ID is allowed
// because repositories assign one on create. Does not modify the job.
func Validate(j *Job) error {
	if j == nil {
		return apperrors.Validation("job", "job is required")
	}
	if j.ID != "" {
		if len(j.ID) > maxJobIDLength {
			return apperrors.Validation("id", fmt.Sprintf("job ID exceeds maximum length of %d", maxJobIDLength))
		}
		if !jobIDPattern.MatchString(j.ID) {
			return apperrors.Validation("id", "job ID must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
		}
	}

	if j.Status != "" && !knownStatus(j.Status) {
		return apperrors.Validation("status", fmt.Sprintf("unknown status %q", j.Status))
	}

	if j.Case == nil || strings.TrimSpace(j.Case.Label) == "" {
		return apperrors.Validation("case.label", "case label is required")
	}
	if len(j.Case.Label) > maxCaseLabelLen {
		return apperrors.Validation("case.label", fmt.Sprintf("case label exceeds maximum length of %d", maxCaseLabelLen))
	}
	if strings.ContainsAny(j.Case.Label, "/\x00") {
		return apperrors.Validation("case.label", "case label must not contain '/'")
	}

	if len(j.Families) > maxFamilies {
		return apperrors.Validation("families", fmt.Sprintf("families exceed maximum of %d", maxFamilies))
	}
	count := 0
	for i, f := range j.Families {
		for k, p := range f.Parameters {
			count++
			if !parameterNamePattern.MatchString(p.Name) {
				return apperrors.Validation(fmt.Sprintf("families[%d].parameters[%d].name", i, k),
					fmt.Sprintf("invalid parameter name %q", p.Name))
			}
		}
	}
	if count > maxParameters {
		return apperrors.Validation("families", fmt.Sprintf("parameters exceed maximum of %d", maxParameters))
	}

	if len(j.Templates)+len(j.Scripts)+len(j.Inputs) > maxFileEntries {
		return apperrors.Validation("files", fmt.Sprintf("templates, scripts and inputs exceed maximum of %d", maxFileEntries))
	}
	for i, t := range j.Templates {
		if err := validateFile(fmt.Sprintf("templates[%d]", i), t.SourceURI, t.DestinationPath); err != nil {
			return err
		}
	}
	for i, in := range j.Inputs {
		if err := validateFile(fmt.Sprintf("inputs[%d]", i), in.SourceURI, in.DestinationPath); err != nil {
			return err
		}
	}
	for i, s := range j.Scripts {
		field := fmt.Sprintf("scripts[%d]", i)
		if !s.Action.Valid() {
			return apperrors.Validation(field+".action", fmt.Sprintf("unknown action %q", s.Action))
		}
		if err := validateFile(field, s.SourceURI, s.DestinationPath); err != nil {
			return err
		}
	}

	return nil
}

func validateFile(field, sourceURI, destination string) error {
	if strings.TrimSpace(sourceURI) == "" {
		return apperrors.Validation(field+".source_uri", "source_uri is required")
	}
	if path.IsAbs(destination) {
		return apperrors.Validation(field+".destination_path", "destination_path must be relative to the working directory")
	}
	for _, part := range strings.Split(destination, "/") {
		if part == ".." {
			return apperrors.Validation(field+".destination_path", "destination_path must not leave the working directory")
		}
	}
	return nil
}

func knownStatus(s Status) bool {
	switch s {
	case StatusNew, StatusQueued, StatusRunning, StatusComplete, StatusError:
		return true
	}
	return false
}
