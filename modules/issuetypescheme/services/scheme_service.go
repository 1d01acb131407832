package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	cfports "github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	cftypes "github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
	"github.com/jacksonlee411/issuefields/pkg/httperr"
)

const (
	errIssueTypeNameRequired      = "ITS_ISSUE_TYPE_NAME_REQUIRED"
	errIssueTypeInUse             = "ITS_ISSUE_TYPE_IN_USE"
	errIssueTypeLast              = "ITS_ISSUE_TYPE_LAST"
	errIssueTypeLastInScheme      = "ITS_ISSUE_TYPE_LAST_IN_SCHEME"
	errIssueTypeUnknown           = "ITS_ISSUE_TYPE_UNKNOWN"
	errSchemeNameRequired         = "ITS_SCHEME_NAME_REQUIRED"
	errSchemeOptionsRequired      = "ITS_SCHEME_OPTIONS_REQUIRED"
	errSchemeOptionsDuplicate     = "ITS_SCHEME_OPTIONS_DUPLICATE"
	errDefaultNotInOptions        = "ITS_DEFAULT_NOT_IN_OPTIONS"
	errDefaultSchemeOptionsLocked = "ITS_DEFAULT_SCHEME_OPTIONS_LOCKED"
	errDefaultSchemeUndeletable   = "ITS_DEFAULT_SCHEME_UNDELETABLE"
	errReorderInvalid             = "ITS_REORDER_INVALID"
	errProjectsRequired           = "ITS_PROJECTS_REQUIRED"

	maxNameLength     = 255
	defaultSchemeName = "Default Issue Type Scheme"
	copyPrefix        = "Copy of "
)

// ErrMigrationRequired is matched by every MigrationRequiredError.
var ErrMigrationRequired = errors.New("ITS_MIGRATION_REQUIRED")

// MigrationRequiredError lists the issues that would be left with an issue
// type their scheme no longer offers.
type MigrationRequiredError struct {
	Usages []types.Usage
}

func (e *MigrationRequiredError) Error() string { return ErrMigrationRequired.Error() }

func (e *MigrationRequiredError) Unwrap() error { return ErrMigrationRequired }

// Stores groups the ports used by the scheme service and the migration wizard.
type Stores struct {
	IssueTypes ports.IssueTypeStore
	Schemes    ports.SchemeStore
	Sessions   ports.SessionStore
	Issues     cfports.IssueStore
	Changes    cfports.ChangeLogStore
	Options    cfports.OptionsManager
	Projects   cfports.ProjectManager
	// Tx makes each issue migration a single unit of work.
	Tx cfports.Transactor
}

type SchemeService interface {
	// Bootstrap seeds the standard issue types and the default scheme when
	// they are missing.
	Bootstrap(ctx context.Context) error
	ListIssueTypes(ctx context.Context) ([]types.IssueType, error)
	CreateIssueType(ctx context.Context, req CreateIssueTypeRequest) (types.IssueType, error)
	DeleteIssueType(ctx context.Context, id string) error
	ListSchemes(ctx context.Context) ([]types.Scheme, error)
	GetScheme(ctx context.Context, id int64) (types.Scheme, error)
	SchemeForProject(ctx context.Context, projectID int64) (types.Scheme, error)
	CreateScheme(ctx context.Context, opts types.SchemeOptions) (types.Scheme, error)
	UpdateScheme(ctx context.Context, id int64, opts types.SchemeOptions) (types.Scheme, error)
	CopyScheme(ctx context.Context, id int64) (types.Scheme, error)
	DeleteScheme(ctx context.Context, id int64) error
	AssociateProjects(ctx context.Context, id int64, projectIDs []int64) (types.Scheme, error)
	AddNewIssueTypeToScheme(ctx context.Context, req AddIssueTypeRequest) (types.Scheme, types.IssueType, error)
	ReorderOptions(ctx context.Context, id int64, orderedIDs []string) (types.Scheme, error)
	SetDefault(ctx context.Context, id int64, issueTypeID string) (types.Scheme, error)
}

type CreateIssueTypeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Subtask     bool   `json:"subtask"`
	IconURL     string `json:"icon_url"`
}

type AddIssueTypeRequest struct {
	SchemeID int64
	CreateIssueTypeRequest
}

var standardIssueTypes = []types.IssueType{
	{ID: "1", Name: "Bug", Description: "A problem which impairs or prevents the functions of the product.", IconURL: "/images/icons/issuetypes/bug.png"},
	{ID: "2", Name: "New Feature", Description: "A new feature of the product, which has yet to be developed.", IconURL: "/images/icons/issuetypes/newfeature.png"},
	{ID: "3", Name: "Task", Description: "A task that needs to be done.", IconURL: "/images/icons/issuetypes/task.png"},
	{ID: "4", Name: "Improvement", Description: "An improvement or enhancement to an existing feature or task.", IconURL: "/images/icons/issuetypes/improvement.png"},
	{ID: "5", Name: "Sub-task", Description: "The sub-task of the issue", Subtask: true, IconURL: "/images/icons/issuetypes/subtask.png"},
}

type schemeService struct {
	planner
	logger *zap.Logger
}

func NewSchemeService(stores Stores, logger *zap.Logger) SchemeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &schemeService{planner: planner{stores: stores}, logger: logger}
}

func (s *schemeService) Bootstrap(ctx context.Context) error {
	existing, err := s.stores.IssueTypes.ListIssueTypes(ctx)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		for _, t := range standardIssueTypes {
			created, err := s.stores.IssueTypes.CreateIssueType(ctx, t)
			if err != nil {
				return fmt.Errorf("seed issue type %q: %w", t.Name, err)
			}
			existing = append(existing, created)
		}
	}
	_, err = s.stores.Schemes.GetDefaultScheme(ctx)
	if !errors.Is(err, ports.ErrDefaultSchemeMissing) {
		return err
	}
	ids := make([]string, 0, len(existing))
	for _, t := range existing {
		ids = append(ids, t.ID)
	}
	sc, err := s.stores.Schemes.CreateScheme(ctx, types.Scheme{
		Name:         defaultSchemeName,
		Description:  "Default issue type scheme is the list of global issue types. All newly created issue types will automatically be added to this scheme.",
		IssueTypeIDs: ids,
		IsDefault:    true,
	})
	if err != nil {
		return fmt.Errorf("seed default scheme: %w", err)
	}
	s.logger.Info("default issue type scheme created", zap.Int64("scheme_id", sc.ID), zap.Int("issue_types", len(ids)))
	return nil
}

func (s *schemeService) ListIssueTypes(ctx context.Context) ([]types.IssueType, error) {
	return s.stores.IssueTypes.ListIssueTypes(ctx)
}

func (s *schemeService) CreateIssueType(ctx context.Context, req CreateIssueTypeRequest) (types.IssueType, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLength {
		return types.IssueType{}, httperr.NewBadRequest(errIssueTypeNameRequired)
	}
	def, err := s.stores.Schemes.GetDefaultScheme(ctx)
	if err != nil {
		return types.IssueType{}, err
	}
	t, err := s.stores.IssueTypes.CreateIssueType(ctx, types.IssueType{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Subtask:     req.Subtask,
		IconURL:     strings.TrimSpace(req.IconURL),
	})
	if err != nil {
		return types.IssueType{}, err
	}
	def.IssueTypeIDs = append(def.IssueTypeIDs, t.ID)
	if _, err := s.stores.Schemes.UpdateScheme(ctx, def); err != nil {
		return types.IssueType{}, err
	}
	s.logger.Info("issue type created", zap.String("issue_type_id", t.ID), zap.String("name", t.Name))
	return t, nil
}

func (s *schemeService) DeleteIssueType(ctx context.Context, id string) error {
	if _, err := s.stores.IssueTypes.GetIssueType(ctx, id); err != nil {
		return err
	}
	inUse, err := s.stores.Issues.ListIssues(ctx, cftypes.IssueFilter{IssueTypeIDs: []string{id}})
	if err != nil {
		return err
	}
	if len(inUse) > 0 {
		return httperr.NewConflict(errIssueTypeInUse)
	}
	all, err := s.stores.IssueTypes.ListIssueTypes(ctx)
	if err != nil {
		return err
	}
	if len(all) <= 1 {
		return httperr.NewConflict(errIssueTypeLast)
	}
	schemes, err := s.stores.Schemes.ListSchemes(ctx)
	if err != nil {
		return err
	}
	for _, sc := range schemes {
		if !sc.IsDefault && len(sc.IssueTypeIDs) == 1 && sc.IssueTypeIDs[0] == id {
			return httperr.NewConflict(errIssueTypeLastInScheme)
		}
	}
	if err := s.stores.IssueTypes.DeleteIssueType(ctx, id); err != nil {
		return err
	}
	s.logger.Info("issue type deleted", zap.String("issue_type_id", id))
	return nil
}

func (s *schemeService) ListSchemes(ctx context.Context) ([]types.Scheme, error) {
	return s.stores.Schemes.ListSchemes(ctx)
}

func (s *schemeService) GetScheme(ctx context.Context, id int64) (types.Scheme, error) {
	return s.stores.Schemes.GetScheme(ctx, id)
}

func (s *schemeService) SchemeForProject(ctx context.Context, projectID int64) (types.Scheme, error) {
	if _, err := s.stores.Projects.GetProject(ctx, projectID); err != nil {
		return types.Scheme{}, err
	}
	sc, err := s.stores.Schemes.SchemeForProject(ctx, projectID)
	if errors.Is(err, ports.ErrSchemeNotFound) {
		return s.stores.Schemes.GetDefaultScheme(ctx)
	}
	return sc, err
}

func (s *schemeService) CreateScheme(ctx context.Context, opts types.SchemeOptions) (types.Scheme, error) {
	opts, err := s.validateOptions(ctx, opts)
	if err != nil {
		return types.Scheme{}, err
	}
	sc, err := s.stores.Schemes.CreateScheme(ctx, types.Scheme{
		Name:               opts.Name,
		Description:        opts.Description,
		DefaultIssueTypeID: opts.DefaultIssueTypeID,
		IssueTypeIDs:       opts.IssueTypeIDs,
	})
	if err != nil {
		return types.Scheme{}, err
	}
	s.logger.Info("issue type scheme created", zap.Int64("scheme_id", sc.ID), zap.String("name", sc.Name))
	return sc, nil
}

func (s *schemeService) UpdateScheme(ctx context.Context, id int64, opts types.SchemeOptions) (types.Scheme, error) {
	cur, err := s.stores.Schemes.GetScheme(ctx, id)
	if err != nil {
		return types.Scheme{}, err
	}
	if cur.IsDefault {
		if len(opts.IssueTypeIDs) == 0 {
			opts.IssueTypeIDs = cur.IssueTypeIDs
		}
		if !sameSet(cur.IssueTypeIDs, opts.IssueTypeIDs) {
			return types.Scheme{}, httperr.NewConflict(errDefaultSchemeOptionsLocked)
		}
	}
	opts, err = s.validateOptions(ctx, opts)
	if err != nil {
		return types.Scheme{}, err
	}
	if !cur.IsDefault {
		sources, err := s.sources(ctx, cur.ProjectIDs, opts.IssueTypeIDs)
		if err != nil {
			return types.Scheme{}, err
		}
		if len(sources) > 0 {
			return types.Scheme{}, &MigrationRequiredError{Usages: usages(sources)}
		}
	}
	return s.applyOptions(ctx, cur, opts)
}

func (s *schemeService) CopyScheme(ctx context.Context, id int64) (types.Scheme, error) {
	src, err := s.stores.Schemes.GetScheme(ctx, id)
	if err != nil {
		return types.Scheme{}, err
	}
	all, err := s.stores.Schemes.ListSchemes(ctx)
	if err != nil {
		return types.Scheme{}, err
	}
	taken := func(name string) bool {
		return slices.ContainsFunc(all, func(sc types.Scheme) bool { return strings.EqualFold(sc.Name, name) })
	}
	name := copyPrefix + src.Name
	for n := 2; taken(name); n++ {
		name = fmt.Sprintf("%s%s (%d)", copyPrefix, src.Name, n)
	}
	return s.stores.Schemes.CreateScheme(ctx, types.Scheme{
		Name:               name,
		Description:        src.Description,
		DefaultIssueTypeID: src.DefaultIssueTypeID,
		IssueTypeIDs:       src.IssueTypeIDs,
	})
}

// DeleteScheme drops a scheme; its projects fall back to the default scheme,
// which offers every issue type.
func (s *schemeService) DeleteScheme(ctx context.Context, id int64) error {
	sc, err := s.stores.Schemes.GetScheme(ctx, id)
	if err != nil {
		return err
	}
	if sc.IsDefault {
		return httperr.NewConflict(errDefaultSchemeUndeletable)
	}
	if err := s.stores.Schemes.DeleteScheme(ctx, id); err != nil {
		return err
	}
	s.logger.Info("issue type scheme deleted", zap.Int64("scheme_id", id), zap.Int64s("projects", sc.ProjectIDs))
	return nil
}

func (s *schemeService) AssociateProjects(ctx context.Context, id int64, projectIDs []int64) (types.Scheme, error) {
	sc, err := s.stores.Schemes.GetScheme(ctx, id)
	if err != nil {
		return types.Scheme{}, err
	}
	projectIDs, err = s.checkProjects(ctx, projectIDs)
	if err != nil {
		return types.Scheme{}, err
	}
	sources, err := s.sources(ctx, projectIDs, sc.IssueTypeIDs)
	if err != nil {
		return types.Scheme{}, err
	}
	if len(sources) > 0 {
		return types.Scheme{}, &MigrationRequiredError{Usages: usages(sources)}
	}
	return s.associate(ctx, sc.ID, projectIDs)
}

func (s *schemeService) AddNewIssueTypeToScheme(ctx context.Context, req AddIssueTypeRequest) (types.Scheme, types.IssueType, error) {
	if _, err := s.stores.Schemes.GetScheme(ctx, req.SchemeID); err != nil {
		return types.Scheme{}, types.IssueType{}, err
	}
	t, err := s.CreateIssueType(ctx, req.CreateIssueTypeRequest)
	if err != nil {
		return types.Scheme{}, types.IssueType{}, err
	}
	sc, err := s.stores.Schemes.GetScheme(ctx, req.SchemeID)
	if err != nil {
		return types.Scheme{}, types.IssueType{}, err
	}
	if !sc.Contains(t.ID) {
		sc.IssueTypeIDs = append(sc.IssueTypeIDs, t.ID)
		if sc, err = s.stores.Schemes.UpdateScheme(ctx, sc); err != nil {
			return types.Scheme{}, types.IssueType{}, err
		}
	}
	return sc, t, nil
}

func (s *schemeService) ReorderOptions(ctx context.Context, id int64, orderedIDs []string) (types.Scheme, error) {
	sc, err := s.stores.Schemes.GetScheme(ctx, id)
	if err != nil {
		return types.Scheme{}, err
	}
	if len(orderedIDs) != len(sc.IssueTypeIDs) || !sameSet(sc.IssueTypeIDs, orderedIDs) {
		return types.Scheme{}, httperr.NewBadRequest(errReorderInvalid)
	}
	sc.IssueTypeIDs = slices.Clone(orderedIDs)
	return s.stores.Schemes.UpdateScheme(ctx, sc)
}

// SetDefault changes the issue type preselected on create. An empty id
// clears it.
func (s *schemeService) SetDefault(ctx context.Context, id int64, issueTypeID string) (types.Scheme, error) {
	sc, err := s.stores.Schemes.GetScheme(ctx, id)
	if err != nil {
		return types.Scheme{}, err
	}
	issueTypeID = strings.TrimSpace(issueTypeID)
	if issueTypeID != "" && !sc.Contains(issueTypeID) {
		return types.Scheme{}, httperr.NewBadRequest(errDefaultNotInOptions)
	}
	sc.DefaultIssueTypeID = issueTypeID
	return s.stores.Schemes.UpdateScheme(ctx, sc)
}

// planner holds the checks shared by direct scheme edits and the migration
// wizard.
type planner struct {
	stores Stores
}

func (p planner) validateOptions(ctx context.Context, opts types.SchemeOptions) (types.SchemeOptions, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	opts.Description = strings.TrimSpace(opts.Description)
	opts.DefaultIssueTypeID = strings.TrimSpace(opts.DefaultIssueTypeID)
	if opts.Name == "" || len(opts.Name) > maxNameLength {
		return opts, httperr.NewBadRequest(errSchemeNameRequired)
	}
	if len(opts.IssueTypeIDs) == 0 {
		return opts, httperr.NewBadRequest(errSchemeOptionsRequired)
	}
	seen := make(map[string]bool, len(opts.IssueTypeIDs))
	for _, id := range opts.IssueTypeIDs {
		if seen[id] {
			return opts, httperr.NewBadRequest(errSchemeOptionsDuplicate)
		}
		seen[id] = true
		if _, err := p.stores.IssueTypes.GetIssueType(ctx, id); err != nil {
			if errors.Is(err, ports.ErrIssueTypeNotFound) {
				return opts, httperr.NewBadRequest(errIssueTypeUnknown)
			}
			return opts, err
		}
	}
	if opts.DefaultIssueTypeID != "" && !seen[opts.DefaultIssueTypeID] {
		return opts, httperr.NewBadRequest(errDefaultNotInOptions)
	}
	opts.IssueTypeIDs = slices.Clone(opts.IssueTypeIDs)
	return opts, nil
}

func (p planner) checkProjects(ctx context.Context, projectIDs []int64) ([]int64, error) {
	out := slices.Clone(projectIDs)
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil, httperr.NewBadRequest(errProjectsRequired)
	}
	for _, id := range out {
		if _, err := p.stores.Projects.GetProject(ctx, id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// sources groups the issues of the projects whose type is not in allowed.
func (p planner) sources(ctx context.Context, projectIDs []int64, allowed []string) ([]types.MigrationSource, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	issues, err := p.stores.Issues.ListIssues(ctx, cftypes.IssueFilter{ProjectIDs: projectIDs})
	if err != nil {
		return nil, err
	}
	type key struct {
		project int64
		typeID  string
	}
	index := map[key]int{}
	var out []types.MigrationSource
	for _, issue := range issues {
		if slices.Contains(allowed, issue.IssueTypeID) {
			continue
		}
		k := key{issue.ProjectID, issue.IssueTypeID}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, types.MigrationSource{ProjectID: issue.ProjectID, IssueTypeID: issue.IssueTypeID})
		}
		out[i].IssueIDs = append(out[i].IssueIDs, issue.ID)
	}
	for i := range out {
		slices.Sort(out[i].IssueIDs)
	}
	slices.SortFunc(out, func(a, b types.MigrationSource) int {
		return cmp.Or(cmp.Compare(a.ProjectID, b.ProjectID), compareTypeIDs(a.IssueTypeID, b.IssueTypeID))
	})
	return out, nil
}

func usages(sources []types.MigrationSource) []types.Usage {
	out := make([]types.Usage, 0, len(sources))
	for _, src := range sources {
		out = append(out, types.Usage{ProjectID: src.ProjectID, IssueTypeID: src.IssueTypeID, Issues: len(src.IssueIDs)})
	}
	return out
}

func (p planner) associate(ctx context.Context, schemeID int64, projectIDs []int64) (types.Scheme, error) {
	if err := p.stores.Schemes.AssignProjects(ctx, schemeID, projectIDs); err != nil {
		return types.Scheme{}, err
	}
	return p.stores.Schemes.GetScheme(ctx, schemeID)
}

func (p planner) applyOptions(ctx context.Context, cur types.Scheme, opts types.SchemeOptions) (types.Scheme, error) {
	cur.Name = opts.Name
	cur.Description = opts.Description
	cur.DefaultIssueTypeID = opts.DefaultIssueTypeID
	cur.IssueTypeIDs = opts.IssueTypeIDs
	return p.stores.Schemes.UpdateScheme(ctx, cur)
}

func sameSet(a, b []string) bool {
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(slices.Compact(x), slices.Compact(y))
}

func compareTypeIDs(a, b string) int {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return cmp.Compare(an, bn)
	}
	return cmp.Compare(a, b)
}
