package ports

import (
	"context"
	"errors"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

var (
	ErrFieldNotFound       = errors.New("CF_FIELD_NOT_FOUND")
	ErrFieldConfigNotFound = errors.New("CF_FIELD_CONFIG_NOT_FOUND")
	ErrContextNotFound     = errors.New("CF_CONTEXT_NOT_FOUND")
	ErrOptionNotFound      = errors.New("CF_OPTION_NOT_FOUND")
	ErrOptionValueConflict = errors.New("CF_OPTION_VALUE_CONFLICT")
	ErrIssueNotFound       = errors.New("ISSUE_NOT_FOUND")
	ErrIssueKeyConflict    = errors.New("ISSUE_KEY_CONFLICT")
	ErrProjectNotFound     = errors.New("PROJECT_NOT_FOUND")
	ErrVersionNotFound     = errors.New("VERSION_NOT_FOUND")
	ErrUserNotFound        = errors.New("USER_NOT_FOUND")
	ErrGroupNotFound       = errors.New("GROUP_NOT_FOUND")
	ErrFieldNameConflict   = errors.New("CF_FIELD_NAME_CONFLICT")
	ErrOptionOrderInvalid  = errors.New("CF_OPTION_ORDER_INVALID")
	ErrProjectKeyConflict  = errors.New("PROJECT_KEY_CONFLICT")
)

// Transactor runs fn as one unit of work. Store calls made with the context
// handed to fn commit together or not at all.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type OptionsManager interface {
	// ListOptions returns every option of a config (top level and children)
	// ordered by parent then sequence.
	ListOptions(ctx context.Context, configID int64) ([]types.Option, error)
	GetOption(ctx context.Context, optionID int64) (types.Option, error)
	CreateOption(ctx context.Context, configID int64, parentID int64, value string) (types.Option, error)
	UpdateOption(ctx context.Context, opt types.Option) (types.Option, error)
	// DeleteOption removes the option and its children, returning the removed ids.
	DeleteOption(ctx context.Context, optionID int64) ([]int64, error)
	// ReorderOptions rewrites sequences of the siblings under parentID.
	ReorderOptions(ctx context.Context, configID int64, parentID int64, orderedIDs []int64) error
}

type LabelManager interface {
	GetLabels(ctx context.Context, issueID int64, fieldID string) ([]types.Label, error)
	SetLabels(ctx context.Context, issueID int64, fieldID string, values []string) ([]types.Label, error)
	SuggestLabels(ctx context.Context, fieldID string, prefix string, limit int) ([]string, error)
}

type VersionManager interface {
	GetVersion(ctx context.Context, versionID int64) (types.Version, error)
	ListVersions(ctx context.Context, projectID int64) ([]types.Version, error)
}

type ProjectManager interface {
	GetProject(ctx context.Context, projectID int64) (types.Project, error)
	GetProjectByKey(ctx context.Context, key string) (types.Project, error)
	ListProjects(ctx context.Context) ([]types.Project, error)
}

type UserManager interface {
	GetUser(ctx context.Context, name string) (types.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]types.User, error)
}

type GroupManager interface {
	GetGroup(ctx context.Context, name string) (types.Group, error)
	ListGroups(ctx context.Context, query string, limit int) ([]types.Group, error)
	IsMember(ctx context.Context, groupName string, userName string) (bool, error)
}

type FieldStore interface {
	CreateField(ctx context.Context, field types.CustomField) (types.CustomField, error)
	GetField(ctx context.Context, fieldID string) (types.CustomField, error)
	ListFields(ctx context.Context) ([]types.CustomField, error)
	// CreateContext persists a new config and the scheme pointing at it.
	CreateContext(ctx context.Context, scheme types.FieldConfigScheme, cfg types.FieldConfig) (types.FieldConfigScheme, types.FieldConfig, error)
	ListContexts(ctx context.Context, fieldID string) ([]types.FieldConfigScheme, error)
	DeleteContext(ctx context.Context, schemeID int64) error
	GetFieldConfig(ctx context.Context, configID int64) (types.FieldConfig, error)
	UpdateFieldConfig(ctx context.Context, cfg types.FieldConfig) (types.FieldConfig, error)
}

type ValueStore interface {
	GetValues(ctx context.Context, issueID int64, fieldID string) ([]types.StoredValue, error)
	// SetValues replaces every row of the issue field; empty rows clears it.
	SetValues(ctx context.Context, issueID int64, fieldID string, rows []types.StoredValue) error
	// RemoveOptionValues deletes rows whose string value references one of
	// the option ids and returns the affected issue ids.
	RemoveOptionValues(ctx context.Context, fieldID string, optionIDs []int64) ([]int64, error)
}

type IssueStore interface {
	CreateIssue(ctx context.Context, issue types.Issue) (types.Issue, error)
	GetIssue(ctx context.Context, issueID int64) (types.Issue, error)
	GetIssueByKey(ctx context.Context, key string) (types.Issue, error)
	ListIssues(ctx context.Context, filter types.IssueFilter) ([]types.Issue, error)
	UpdateIssueType(ctx context.Context, issueID int64, issueTypeID string) (types.Issue, error)
}

type ChangeLogStore interface {
	AppendChangeGroup(ctx context.Context, group types.ChangeGroup) (types.ChangeGroup, error)
	ListChangeGroups(ctx context.Context, issueID int64) ([]types.ChangeGroup, error)
}

// DirectoryWriter seeds projects, versions, users and groups.
type DirectoryWriter interface {
	PutProject(ctx context.Context, p types.Project) (types.Project, error)
	PutVersion(ctx context.Context, v types.Version) (types.Version, error)
	PutUser(ctx context.Context, u types.User) error
	PutGroup(ctx context.Context, g types.Group, members ...string) error
}
