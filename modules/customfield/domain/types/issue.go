package types

import "time"

type Issue struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	ProjectID   int64     `json:"project_id"`
	IssueTypeID string    `json:"issue_type_id"`
	Summary     string    `json:"summary"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type IssueFilter struct {
	ProjectIDs   []int64  `json:"project_ids"`
	IssueTypeIDs []string `json:"issue_type_ids"`
}

const FieldIDIssueType = "issuetype"

type ChangeItem struct {
	FieldID    string `json:"field_id"`
	FieldName  string `json:"field"`
	From       string `json:"from"`
	FromString string `json:"from_string"`
	To         string `json:"to"`
	ToString   string `json:"to_string"`
}

type ChangeGroup struct {
	ID      int64        `json:"id"`
	IssueID int64        `json:"issue_id"`
	Author  string       `json:"author"`
	Created time.Time    `json:"created"`
	Items   []ChangeItem `json:"items"`
}
