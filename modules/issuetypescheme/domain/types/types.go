package types

import "slices"

type IssueType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Subtask     bool   `json:"subtask"`
	IconURL     string `json:"icon_url"`
}

// Scheme is an ordered list of issue types offered to its projects. Projects
// not associated with any scheme use the default scheme.
type Scheme struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	DefaultIssueTypeID string   `json:"default_issue_type_id"`
	IssueTypeIDs       []string `json:"issue_type_ids"`
	ProjectIDs         []int64  `json:"project_ids"`
	IsDefault          bool     `json:"is_default"`
}

func (s Scheme) Contains(issueTypeID string) bool {
	return slices.Contains(s.IssueTypeIDs, issueTypeID)
}

func CloneScheme(s Scheme) Scheme {
	s.IssueTypeIDs = slices.Clone(s.IssueTypeIDs)
	s.ProjectIDs = slices.Clone(s.ProjectIDs)
	return s
}

// Usage counts issues of one project holding one issue type.
type Usage struct {
	ProjectID   int64  `json:"project_id"`
	IssueTypeID string `json:"issue_type_id"`
	Issues      int    `json:"issues"`
}
