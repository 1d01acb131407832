package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jacksonlee411/issuefields/internal/metrics"
	"github.com/jacksonlee411/issuefields/internal/routing"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/fieldtypes"
	cfcontrollers "github.com/jacksonlee411/issuefields/modules/customfield/presentation/controllers"
	cfservices "github.com/jacksonlee411/issuefields/modules/customfield/services"
	itscontrollers "github.com/jacksonlee411/issuefields/modules/issuetypescheme/presentation/controllers"
	itsservices "github.com/jacksonlee411/issuefields/modules/issuetypescheme/services"
)

type HandlerOptions struct {
	Config Config
	Logger *zap.Logger
	Stores *Stores
	// Metrics defaults to a fresh Prometheus registry served on /metrics.
	Metrics *metrics.Prometheus
	// Authorizer defaults to the casbin files named in Config.
	Authorizer authorizer
	Now        func() time.Time
}

func NewHandlerWithOptions(ctx context.Context, opts HandlerOptions) (http.Handler, error) {
	if opts.Stores == nil {
		return nil, errors.New("server: missing stores")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	a, err := routing.LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	authorizer := opts.Authorizer
	if authorizer == nil {
		az, err := loadAuthorizer(cfg)
		if err != nil {
			return nil, err
		}
		authorizer = az
	}

	prom := opts.Metrics
	if prom == nil {
		if prom, err = metrics.NewPrometheus(); err != nil {
			return nil, err
		}
	}

	cf := opts.Stores.CustomFields
	registry := fieldtypes.NewRegistry(fieldtypes.Deps{
		Options:  cf,
		Labels:   cf,
		Versions: cf,
		Projects: cf,
		Users:    cf,
		Groups:   cf,
		Now:      opts.Now,
	})
	if cfg.CatalogPath != "" {
		catalog, err := fieldtypes.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		if err := registry.Restrict(catalog); err != nil {
			return nil, err
		}
		logger.Info("field type catalog loaded", zap.String("path", cfg.CatalogPath), zap.Int("enabled", len(registry.Descriptors())))
	}

	fields := cfservices.NewFieldService(
		cfservices.FieldStores{Fields: cf, Values: cf, Issues: cf, Changes: cf, Options: cf, Projects: cf, Tx: cf},
		registry, logger.Named("fields"), prom, fieldtypes.Links{BaseURL: cfg.BaseURL},
	)
	options := cfservices.NewOptionService(
		cfservices.OptionStores{Options: cf, Fields: cf, Values: cf, Tx: cf},
		registry, logger.Named("options"), prom,
	)

	its := opts.Stores.IssueTypeSchemes
	stores := itsservices.Stores{IssueTypes: its, Schemes: its, Sessions: its, Issues: cf, Changes: cf, Options: cf, Projects: cf, Tx: cf}
	schemes := itsservices.NewSchemeService(stores, logger.Named("schemes"))
	if err := schemes.Bootstrap(ctx); err != nil {
		return nil, err
	}
	wizard := itsservices.NewMigrationWizard(stores, fields, logger.Named("migrations"), prom, itsservices.WizardConfig{
		Workers: cfg.MigrationWorkers,
		Now:     opts.Now,
	})

	router := routing.NewRouter(classifier).WithLogger(logger)
	health := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	router.Handle(routing.RouteClassOps, http.MethodGet, "/health", health)
	router.Handle(routing.RouteClassOps, http.MethodGet, "/healthz", health)
	router.Handle(routing.RouteClassOps, http.MethodGet, "/metrics", prom.Handler())

	cfcontrollers.FieldsController{Fields: fields, Options: options}.Register(router)
	cfcontrollers.IssueValuesController{Fields: fields, Principal: principalName}.Register(router)
	itscontrollers.SchemesController{Schemes: schemes}.Register(router)
	itscontrollers.MigrationsController{Wizard: wizard, Principal: principalName}.Register(router)
	itscontrollers.AdminFormsController{Schemes: schemes, Wizard: wizard, Principal: principalName}.Register(router)

	var h http.Handler = router
	h = withAuthz(classifier, authorizer, logger, h)
	h = withPrincipalFromHeader(classifier, cfg.AuthUserHeader, cfg.AdminGroup, cf, cf, logger, h)
	h = withRequestLog(classifier, logger, prom, h)
	return h, nil
}
