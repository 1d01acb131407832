package types

import (
	"slices"
	"time"
)

type MigrationKind string

const (
	// MigrationAssociate moves projects onto a scheme.
	MigrationAssociate MigrationKind = "associate"
	// MigrationUpdateOptions edits the option list of a scheme.
	MigrationUpdateOptions MigrationKind = "update_options"
)

type MigrationStep string

const (
	StepSelectTargets MigrationStep = "select_targets"
	StepMapFields     MigrationStep = "map_fields"
	StepConfirm       MigrationStep = "confirm"
	StepCompleted     MigrationStep = "completed"
	StepCancelled     MigrationStep = "cancelled"
)

func (s MigrationStep) Terminal() bool {
	return s == StepCompleted || s == StepCancelled
}

// SchemeOptions is a proposed edit of a scheme applied once issues migrate.
type SchemeOptions struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	DefaultIssueTypeID string   `json:"default_issue_type_id"`
	IssueTypeIDs       []string `json:"issue_type_ids"`
}

// MigrationSource groups issues of one project and issue type that are not
// allowed under the target scheme.
type MigrationSource struct {
	ProjectID         int64   `json:"project_id"`
	IssueTypeID       string  `json:"issue_type_id"`
	IssueIDs          []int64 `json:"issue_ids"`
	TargetIssueTypeID string  `json:"target_issue_type_id"`
}

// FieldConflict is an option value that is not valid in the context the
// issue lands in.
type FieldConflict struct {
	FieldID        string `json:"field_id"`
	FieldName      string `json:"field_name"`
	OptionID       int64  `json:"option_id"`
	OptionValue    string `json:"option_value"`
	ParentOptionID int64  `json:"parent_option_id"`
	TargetConfigID int64  `json:"target_config_id"`
	TargetRequired bool   `json:"target_required"`
	Issues         int    `json:"issues"`
}

// FieldMapping replaces an option for one target config; TargetOptionID 0
// clears the value.
type FieldMapping struct {
	FieldID        string `json:"field_id"`
	OptionID       int64  `json:"option_id"`
	TargetConfigID int64  `json:"target_config_id"`
	TargetOptionID int64  `json:"target_option_id"`
}

func (c FieldConflict) Matches(m FieldMapping) bool {
	return c.FieldID == m.FieldID && c.OptionID == m.OptionID && c.TargetConfigID == m.TargetConfigID
}

type MigrationResult struct {
	IssuesMigrated int       `json:"issues_migrated"`
	ValuesChanged  int       `json:"values_changed"`
	CompletedAt    time.Time `json:"completed_at"`
}

type MigrationSession struct {
	ID         string            `json:"id"`
	Kind       MigrationKind     `json:"kind"`
	SchemeID   int64             `json:"scheme_id"`
	ProjectIDs []int64           `json:"project_ids"`
	Proposed   *SchemeOptions    `json:"proposed,omitempty"`
	Step       MigrationStep     `json:"step"`
	Sources    []MigrationSource `json:"sources"`
	Conflicts  []FieldConflict   `json:"conflicts"`
	Mappings   []FieldMapping    `json:"mappings"`
	Result     *MigrationResult  `json:"result,omitempty"`
	Author     string            `json:"author"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func CloneSession(s MigrationSession) MigrationSession {
	s.ProjectIDs = slices.Clone(s.ProjectIDs)
	if s.Proposed != nil {
		p := *s.Proposed
		p.IssueTypeIDs = slices.Clone(p.IssueTypeIDs)
		s.Proposed = &p
	}
	sources := make([]MigrationSource, len(s.Sources))
	for i, src := range s.Sources {
		src.IssueIDs = slices.Clone(src.IssueIDs)
		sources[i] = src
	}
	if s.Sources == nil {
		sources = nil
	}
	s.Sources = sources
	s.Conflicts = slices.Clone(s.Conflicts)
	s.Mappings = slices.Clone(s.Mappings)
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}
