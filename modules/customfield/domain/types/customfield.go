package types

import (
	"strconv"
	"strings"
	"time"
)

const FieldIDPrefix = "customfield_"

type CustomField struct {
	ID          string    `json:"id"`
	NumericID   int64     `json:"numeric_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TypeKey     string    `json:"type_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// FieldConfigScheme is a field "context": it binds one FieldConfig to a set of
// projects and issue types. Empty ProjectIDs means all projects, empty
// IssueTypeIDs means all issue types.
type FieldConfigScheme struct {
	ID           int64    `json:"id"`
	FieldID      string   `json:"field_id"`
	Name         string   `json:"name"`
	ProjectIDs   []int64  `json:"project_ids"`
	IssueTypeIDs []string `json:"issue_type_ids"`
	ConfigID     int64    `json:"config_id"`
}

func (s FieldConfigScheme) IsGlobal() bool {
	return len(s.ProjectIDs) == 0 && len(s.IssueTypeIDs) == 0
}

type FieldConfig struct {
	ID             int64         `json:"id"`
	FieldID        string        `json:"field_id"`
	Name           string        `json:"name"`
	Required       bool          `json:"required"`
	ValidationExpr string        `json:"validation_expr"`
	Default        []StoredValue `json:"default"`
}

func FieldIDFromNumeric(id int64) string {
	return FieldIDPrefix + strconv.FormatInt(id, 10)
}

func NumericFromFieldID(fieldID string) (int64, bool) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(fieldID), FieldIDPrefix)
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func CloneFieldConfigScheme(s FieldConfigScheme) FieldConfigScheme {
	s.ProjectIDs = append([]int64(nil), s.ProjectIDs...)
	s.IssueTypeIDs = append([]string(nil), s.IssueTypeIDs...)
	return s
}

func CloneFieldConfig(c FieldConfig) FieldConfig {
	c.Default = CloneStoredValues(c.Default)
	return c
}
