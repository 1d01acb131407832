package ports

import (
	"context"
	"errors"

	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
)

var (
	ErrIssueTypeNotFound     = errors.New("ITS_ISSUE_TYPE_NOT_FOUND")
	ErrIssueTypeNameConflict = errors.New("ITS_ISSUE_TYPE_NAME_CONFLICT")
	ErrSchemeNotFound        = errors.New("ITS_SCHEME_NOT_FOUND")
	ErrSchemeNameConflict    = errors.New("ITS_SCHEME_NAME_CONFLICT")
	ErrDefaultSchemeMissing  = errors.New("ITS_DEFAULT_SCHEME_MISSING")
	ErrSessionNotFound       = errors.New("ITS_MIGRATION_NOT_FOUND")
)

type IssueTypeStore interface {
	CreateIssueType(ctx context.Context, t types.IssueType) (types.IssueType, error)
	GetIssueType(ctx context.Context, id string) (types.IssueType, error)
	ListIssueTypes(ctx context.Context) ([]types.IssueType, error)
	// DeleteIssueType removes the type and drops it from every scheme.
	DeleteIssueType(ctx context.Context, id string) error
}

type SchemeStore interface {
	CreateScheme(ctx context.Context, s types.Scheme) (types.Scheme, error)
	GetScheme(ctx context.Context, id int64) (types.Scheme, error)
	GetDefaultScheme(ctx context.Context) (types.Scheme, error)
	ListSchemes(ctx context.Context) ([]types.Scheme, error)
	// UpdateScheme replaces name, description, default and issue types.
	// Project associations are kept.
	UpdateScheme(ctx context.Context, s types.Scheme) (types.Scheme, error)
	DeleteScheme(ctx context.Context, id int64) error
	// SchemeForProject returns the scheme a project is explicitly associated
	// with, or ErrSchemeNotFound.
	SchemeForProject(ctx context.Context, projectID int64) (types.Scheme, error)
	// AssignProjects moves the projects onto the scheme, detaching them from
	// any other scheme. Assigning to the default scheme only detaches.
	AssignProjects(ctx context.Context, schemeID int64, projectIDs []int64) error
}

type SessionStore interface {
	SaveSession(ctx context.Context, s types.MigrationSession) error
	GetSession(ctx context.Context, id string) (types.MigrationSession, error)
}
