package types

import "time"

type Option struct {
	ID            int64  `json:"id"`
	FieldConfigID int64  `json:"field_config_id"`
	ParentID      int64  `json:"parent_id"`
	Value         string `json:"value"`
	Sequence      int    `json:"sequence"`
	Disabled      bool   `json:"disabled"`
}

func (o Option) IsTopLevel() bool { return o.ParentID == 0 }

type Label struct {
	ID      int64  `json:"id"`
	IssueID int64  `json:"issue_id"`
	FieldID string `json:"field_id"`
	Value   string `json:"value"`
}

type Version struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Sequence    int        `json:"sequence"`
	Released    bool       `json:"released"`
	Archived    bool       `json:"archived"`
	ReleaseDate *time.Time `json:"release_date"`
}

type Project struct {
	ID   int64  `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
	Lead string `json:"lead"`
}

type User struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Active      bool   `json:"active"`
}

type Group struct {
	Name string `json:"name"`
}
