package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jacksonlee411/issuefields/internal/snapshot"
	cfports "github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	cfmemory "github.com/jacksonlee411/issuefields/modules/customfield/infrastructure/memory"
	cfpersistence "github.com/jacksonlee411/issuefields/modules/customfield/infrastructure/persistence"
	itsports "github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/ports"
	itsmemory "github.com/jacksonlee411/issuefields/modules/issuetypescheme/infrastructure/memory"
	itspersistence "github.com/jacksonlee411/issuefields/modules/issuetypescheme/infrastructure/persistence"
)

const (
	customFieldBucket     = "customfield"
	issueTypeSchemeBucket = "issuetypescheme"
)

// customFieldBackend is satisfied by both the memory and the PG store.
type customFieldBackend interface {
	cfports.OptionsManager
	cfports.LabelManager
	cfports.VersionManager
	cfports.ProjectManager
	cfports.UserManager
	cfports.GroupManager
	cfports.FieldStore
	cfports.ValueStore
	cfports.IssueStore
	cfports.ChangeLogStore
	cfports.DirectoryWriter
	cfports.Transactor
}

type issueTypeSchemeBackend interface {
	itsports.IssueTypeStore
	itsports.SchemeStore
	itsports.SessionStore
}

// Stores bundles the backends of both modules.
type Stores struct {
	CustomFields     customFieldBackend
	IssueTypeSchemes issueTypeSchemeBackend

	closers []func()
}

// NewMemoryStores returns empty, unpersisted in-memory stores.
func NewMemoryStores() *Stores {
	return &Stores{CustomFields: cfmemory.NewStore(), IssueTypeSchemes: itsmemory.NewStore()}
}

func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// OpenStores builds the backends selected by cfg.StoreDriver.
func OpenStores(ctx context.Context, cfg Config, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.StoreDriver {
	case "", StoreMemory:
		logger.Info("using in-memory stores")
		return NewMemoryStores(), nil
	case StoreSQLite:
		return openSQLiteStores(ctx, cfg.SQLitePath, logger)
	case StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("server: connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("server: ping postgres: %w", err)
		}
		logger.Info("using postgres stores")
		return &Stores{
			CustomFields:     cfpersistence.NewCustomFieldPGStore(pool),
			IssueTypeSchemes: itspersistence.NewIssueTypeSchemePGStore(pool),
			closers:          []func(){pool.Close},
		}, nil
	default:
		return nil, fmt.Errorf("server: unknown store driver %q", cfg.StoreDriver)
	}
}

func openSQLiteStores(ctx context.Context, path string, logger *zap.Logger) (*Stores, error) {
	db, err := snapshot.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	cf := cfmemory.NewStore()
	its := itsmemory.NewStore()
	if err := cf.Attach(ctx, db, customFieldBucket); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	if err := its.Attach(ctx, db, issueTypeSchemeBucket); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	logger.Info("using sqlite snapshot stores", zap.String("path", db.Path()))
	return &Stores{
		CustomFields:     cf,
		IssueTypeSchemes: its,
		closers: []func(){func() {
			if err := db.Close(); err != nil {
				logger.Warn("close sqlite", zap.Error(err))
			}
		}},
	}, nil
}
