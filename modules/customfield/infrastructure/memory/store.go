package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jacksonlee411/issuefields/internal/snapshot"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

const firstFieldNumber = 10000

type valueKey struct {
	issueID int64
	fieldID string
}

// Store is an in-memory implementation of every customfield port. When a
// persister is attached the full state is written after each mutation.
type Store struct {
	mu sync.RWMutex

	nextID          int64
	nextFieldNumber int64

	fields   map[string]types.CustomField
	schemes  map[int64]types.FieldConfigScheme
	configs  map[int64]types.FieldConfig
	options  map[int64]types.Option
	labels   map[valueKey][]types.Label
	values   map[valueKey][]types.StoredValue
	issues   map[int64]types.Issue
	projects map[int64]types.Project
	versions map[int64]types.Version
	users    map[string]types.User
	groups   map[string]types.Group
	members  map[string]map[string]bool
	changes  map[int64][]types.ChangeGroup

	persister snapshot.Persister
	bucket    string
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		nextID:          1,
		nextFieldNumber: firstFieldNumber,
		fields:          map[string]types.CustomField{},
		schemes:         map[int64]types.FieldConfigScheme{},
		configs:         map[int64]types.FieldConfig{},
		options:         map[int64]types.Option{},
		labels:          map[valueKey][]types.Label{},
		values:          map[valueKey][]types.StoredValue{},
		issues:          map[int64]types.Issue{},
		projects:        map[int64]types.Project{},
		versions:        map[int64]types.Version{},
		users:           map[string]types.User{},
		groups:          map[string]types.Group{},
		members:         map[string]map[string]bool{},
		changes:         map[int64][]types.ChangeGroup{},
		now:             time.Now,
	}
}

// Attach restores state from the bucket (when present) and persists every
// later mutation into it.
func (s *Store) Attach(ctx context.Context, p snapshot.Persister, bucket string) error {
	payload, ok, err := p.Load(ctx, bucket)
	if err != nil {
		return err
	}
	if ok {
		if err := s.Restore(payload); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.persister = p
	s.bucket = bucket
	s.mu.Unlock()
	return nil
}

func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) id() int64 {
	id := s.nextID
	s.nextID++
	return id
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock takes the write lock unless ctx already runs inside WithinTx, which
// holds it for the whole unit of work.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// WithinTx runs fn with the store locked. Every mutation made through the
// context passed to fn is undone when fn fails, and the snapshot is
// persisted once on success.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	saved, err := json.Marshal(s.exportLocked())
	if err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		if rerr := s.restoreLocked(saved); rerr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rerr)
		}
		return err
	}
	return s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) error {
	if s.persister == nil || s.inTx(ctx) {
		return nil
	}
	payload, err := json.Marshal(s.exportLocked())
	if err != nil {
		return err
	}
	return s.persister.Save(ctx, s.bucket, payload)
}

// ---- options ----

func (s *Store) ListOptions(ctx context.Context, configID int64) ([]types.Option, error) {
	defer s.rlock(ctx)()
	var out []types.Option
	for _, o := range s.options {
		if o.FieldConfigID == configID {
			out = append(out, o)
		}
	}
	sortOptions(out)
	return out, nil
}

func sortOptions(opts []types.Option) {
	slices.SortFunc(opts, func(a, b types.Option) int {
		return cmp.Or(cmp.Compare(a.ParentID, b.ParentID), cmp.Compare(a.Sequence, b.Sequence), cmp.Compare(a.ID, b.ID))
	})
}

func (s *Store) GetOption(ctx context.Context, optionID int64) (types.Option, error) {
	defer s.rlock(ctx)()
	o, ok := s.options[optionID]
	if !ok {
		return types.Option{}, ports.ErrOptionNotFound
	}
	return o, nil
}

func (s *Store) siblingsLocked(configID int64, parentID int64) []types.Option {
	var out []types.Option
	for _, o := range s.options {
		if o.FieldConfigID == configID && o.ParentID == parentID {
			out = append(out, o)
		}
	}
	sortOptions(out)
	return out
}

func (s *Store) valueTakenLocked(configID int64, parentID int64, value string, exceptID int64) bool {
	for _, o := range s.siblingsLocked(configID, parentID) {
		if o.ID != exceptID && strings.EqualFold(o.Value, value) {
			return true
		}
	}
	return false
}

func (s *Store) CreateOption(ctx context.Context, configID int64, parentID int64, value string) (types.Option, error) {
	defer s.lock(ctx)()
	if _, ok := s.configs[configID]; !ok {
		return types.Option{}, ports.ErrFieldConfigNotFound
	}
	if parentID != 0 {
		parent, ok := s.options[parentID]
		if !ok || parent.FieldConfigID != configID || !parent.IsTopLevel() {
			return types.Option{}, ports.ErrOptionNotFound
		}
	}
	if s.valueTakenLocked(configID, parentID, value, 0) {
		return types.Option{}, ports.ErrOptionValueConflict
	}
	o := types.Option{
		ID:            s.id(),
		FieldConfigID: configID,
		ParentID:      parentID,
		Value:         value,
		Sequence:      len(s.siblingsLocked(configID, parentID)),
	}
	s.options[o.ID] = o
	return o, s.persistLocked(ctx)
}

// UpdateOption changes value, disabled flag and sequence. Owner and parent
// are fixed at creation.
func (s *Store) UpdateOption(ctx context.Context, opt types.Option) (types.Option, error) {
	defer s.lock(ctx)()
	cur, ok := s.options[opt.ID]
	if !ok {
		return types.Option{}, ports.ErrOptionNotFound
	}
	if s.valueTakenLocked(cur.FieldConfigID, cur.ParentID, opt.Value, cur.ID) {
		return types.Option{}, ports.ErrOptionValueConflict
	}
	cur.Value = opt.Value
	cur.Disabled = opt.Disabled
	cur.Sequence = opt.Sequence
	s.options[cur.ID] = cur
	return cur, s.persistLocked(ctx)
}

func (s *Store) DeleteOption(ctx context.Context, optionID int64) ([]int64, error) {
	defer s.lock(ctx)()
	o, ok := s.options[optionID]
	if !ok {
		return nil, ports.ErrOptionNotFound
	}
	removed := []int64{o.ID}
	for _, child := range s.siblingsLocked(o.FieldConfigID, o.ID) {
		removed = append(removed, child.ID)
		delete(s.options, child.ID)
	}
	delete(s.options, o.ID)
	for i, sib := range s.siblingsLocked(o.FieldConfigID, o.ParentID) {
		sib.Sequence = i
		s.options[sib.ID] = sib
	}
	return removed, s.persistLocked(ctx)
}

func (s *Store) ReorderOptions(ctx context.Context, configID int64, parentID int64, orderedIDs []int64) error {
	defer s.lock(ctx)()
	siblings := s.siblingsLocked(configID, parentID)
	if len(siblings) != len(orderedIDs) {
		return ports.ErrOptionOrderInvalid
	}
	seen := map[int64]bool{}
	for _, id := range orderedIDs {
		o, ok := s.options[id]
		if !ok || seen[id] || o.FieldConfigID != configID || o.ParentID != parentID {
			return ports.ErrOptionOrderInvalid
		}
		seen[id] = true
	}
	for i, id := range orderedIDs {
		o := s.options[id]
		o.Sequence = i
		s.options[id] = o
	}
	return s.persistLocked(ctx)
}

// ---- labels ----

func (s *Store) GetLabels(ctx context.Context, issueID int64, fieldID string) ([]types.Label, error) {
	defer s.rlock(ctx)()
	return slices.Clone(s.labels[valueKey{issueID, fieldID}]), nil
}

func (s *Store) SetLabels(ctx context.Context, issueID int64, fieldID string, values []string) ([]types.Label, error) {
	defer s.lock(ctx)()
	key := valueKey{issueID, fieldID}
	if len(values) == 0 {
		delete(s.labels, key)
		return nil, s.persistLocked(ctx)
	}
	out := make([]types.Label, 0, len(values))
	for _, v := range values {
		out = append(out, types.Label{ID: s.id(), IssueID: issueID, FieldID: fieldID, Value: v})
	}
	s.labels[key] = out
	return slices.Clone(out), s.persistLocked(ctx)
}

func (s *Store) SuggestLabels(ctx context.Context, fieldID string, prefix string, limit int) ([]string, error) {
	defer s.rlock(ctx)()
	prefix = strings.ToLower(prefix)
	seen := map[string]bool{}
	var out []string
	for key, ls := range s.labels {
		if key.fieldID != fieldID {
			continue
		}
		for _, l := range ls {
			if seen[l.Value] || !strings.HasPrefix(strings.ToLower(l.Value), prefix) {
				continue
			}
			seen[l.Value] = true
			out = append(out, l.Value)
		}
	}
	slices.Sort(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- projects, versions, users, groups ----

// PutProject inserts or replaces a project. A zero id is assigned.
func (s *Store) PutProject(ctx context.Context, p types.Project) (types.Project, error) {
	defer s.lock(ctx)()
	p.Key = strings.ToUpper(strings.TrimSpace(p.Key))
	for _, other := range s.projects {
		if other.ID != p.ID && other.Key == p.Key {
			return types.Project{}, ports.ErrProjectKeyConflict
		}
	}
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.projects[p.ID] = p
	return p, s.persistLocked(ctx)
}

func (s *Store) GetProject(ctx context.Context, projectID int64) (types.Project, error) {
	defer s.rlock(ctx)()
	p, ok := s.projects[projectID]
	if !ok {
		return types.Project{}, ports.ErrProjectNotFound
	}
	return p, nil
}

func (s *Store) GetProjectByKey(ctx context.Context, key string) (types.Project, error) {
	defer s.rlock(ctx)()
	key = strings.ToUpper(strings.TrimSpace(key))
	for _, p := range s.projects {
		if p.Key == key {
			return p, nil
		}
	}
	return types.Project{}, ports.ErrProjectNotFound
}

func (s *Store) ListProjects(ctx context.Context) ([]types.Project, error) {
	defer s.rlock(ctx)()
	out := make([]types.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b types.Project) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) PutVersion(ctx context.Context, v types.Version) (types.Version, error) {
	defer s.lock(ctx)()
	if _, ok := s.projects[v.ProjectID]; !ok {
		return types.Version{}, ports.ErrProjectNotFound
	}
	if v.ID == 0 {
		v.ID = s.id()
	}
	s.versions[v.ID] = v
	return v, s.persistLocked(ctx)
}

func (s *Store) GetVersion(ctx context.Context, versionID int64) (types.Version, error) {
	defer s.rlock(ctx)()
	v, ok := s.versions[versionID]
	if !ok {
		return types.Version{}, ports.ErrVersionNotFound
	}
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, projectID int64) ([]types.Version, error) {
	defer s.rlock(ctx)()
	var out []types.Version
	for _, v := range s.versions {
		if v.ProjectID == projectID {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b types.Version) int {
		return cmp.Or(cmp.Compare(a.Sequence, b.Sequence), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) PutUser(ctx context.Context, u types.User) error {
	defer s.lock(ctx)()
	s.users[u.Name] = u
	return s.persistLocked(ctx)
}

func (s *Store) GetUser(ctx context.Context, name string) (types.User, error) {
	defer s.rlock(ctx)()
	u, ok := s.users[name]
	if !ok {
		return types.User{}, ports.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) SearchUsers(ctx context.Context, query string, limit int) ([]types.User, error) {
	defer s.rlock(ctx)()
	query = strings.ToLower(strings.TrimSpace(query))
	var out []types.User
	for _, u := range s.users {
		if query == "" || strings.Contains(strings.ToLower(u.Name), query) || strings.Contains(strings.ToLower(u.DisplayName), query) {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b types.User) int { return cmp.Compare(a.Name, b.Name) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PutGroup(ctx context.Context, g types.Group, members ...string) error {
	defer s.lock(ctx)()
	s.groups[g.Name] = g
	if s.members[g.Name] == nil {
		s.members[g.Name] = map[string]bool{}
	}
	for _, m := range members {
		s.members[g.Name][m] = true
	}
	return s.persistLocked(ctx)
}

func (s *Store) GetGroup(ctx context.Context, name string) (types.Group, error) {
	defer s.rlock(ctx)()
	g, ok := s.groups[name]
	if !ok {
		return types.Group{}, ports.ErrGroupNotFound
	}
	return g, nil
}

func (s *Store) ListGroups(ctx context.Context, query string, limit int) ([]types.Group, error) {
	defer s.rlock(ctx)()
	query = strings.ToLower(strings.TrimSpace(query))
	var out []types.Group
	for _, g := range s.groups {
		if query == "" || strings.Contains(strings.ToLower(g.Name), query) {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b types.Group) int { return cmp.Compare(a.Name, b.Name) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) IsMember(ctx context.Context, groupName string, userName string) (bool, error) {
	defer s.rlock(ctx)()
	if _, ok := s.groups[groupName]; !ok {
		return false, ports.ErrGroupNotFound
	}
	return s.members[groupName][userName], nil
}

// ---- fields, contexts, configs ----

func (s *Store) CreateField(ctx context.Context, field types.CustomField) (types.CustomField, error) {
	defer s.lock(ctx)()
	for _, f := range s.fields {
		if strings.EqualFold(f.Name, field.Name) {
			return types.CustomField{}, ports.ErrFieldNameConflict
		}
	}
	field.NumericID = s.nextFieldNumber
	s.nextFieldNumber++
	field.ID = types.FieldIDFromNumeric(field.NumericID)
	if field.CreatedAt.IsZero() {
		field.CreatedAt = s.now().UTC()
	}
	s.fields[field.ID] = field
	return field, s.persistLocked(ctx)
}

func (s *Store) GetField(ctx context.Context, fieldID string) (types.CustomField, error) {
	defer s.rlock(ctx)()
	f, ok := s.fields[fieldID]
	if !ok {
		return types.CustomField{}, ports.ErrFieldNotFound
	}
	return f, nil
}

func (s *Store) ListFields(ctx context.Context) ([]types.CustomField, error) {
	defer s.rlock(ctx)()
	out := make([]types.CustomField, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b types.CustomField) int { return cmp.Compare(a.NumericID, b.NumericID) })
	return out, nil
}

func (s *Store) CreateContext(ctx context.Context, scheme types.FieldConfigScheme, cfg types.FieldConfig) (types.FieldConfigScheme, types.FieldConfig, error) {
	defer s.lock(ctx)()
	if _, ok := s.fields[scheme.FieldID]; !ok {
		return types.FieldConfigScheme{}, types.FieldConfig{}, ports.ErrFieldNotFound
	}
	cfg = types.CloneFieldConfig(cfg)
	cfg.ID = s.id()
	cfg.FieldID = scheme.FieldID
	scheme = types.CloneFieldConfigScheme(scheme)
	scheme.ID = s.id()
	scheme.ConfigID = cfg.ID
	s.configs[cfg.ID] = cfg
	s.schemes[scheme.ID] = scheme
	return types.CloneFieldConfigScheme(scheme), types.CloneFieldConfig(cfg), s.persistLocked(ctx)
}

func (s *Store) ListContexts(ctx context.Context, fieldID string) ([]types.FieldConfigScheme, error) {
	defer s.rlock(ctx)()
	var out []types.FieldConfigScheme
	for _, sc := range s.schemes {
		if sc.FieldID == fieldID {
			out = append(out, types.CloneFieldConfigScheme(sc))
		}
	}
	slices.SortFunc(out, func(a, b types.FieldConfigScheme) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// DeleteContext removes the context, its config and the config's options.
func (s *Store) DeleteContext(ctx context.Context, schemeID int64) error {
	defer s.lock(ctx)()
	sc, ok := s.schemes[schemeID]
	if !ok {
		return ports.ErrContextNotFound
	}
	delete(s.schemes, schemeID)
	delete(s.configs, sc.ConfigID)
	for id, o := range s.options {
		if o.FieldConfigID == sc.ConfigID {
			delete(s.options, id)
		}
	}
	return s.persistLocked(ctx)
}

func (s *Store) GetFieldConfig(ctx context.Context, configID int64) (types.FieldConfig, error) {
	defer s.rlock(ctx)()
	cfg, ok := s.configs[configID]
	if !ok {
		return types.FieldConfig{}, ports.ErrFieldConfigNotFound
	}
	return types.CloneFieldConfig(cfg), nil
}

func (s *Store) UpdateFieldConfig(ctx context.Context, cfg types.FieldConfig) (types.FieldConfig, error) {
	defer s.lock(ctx)()
	cur, ok := s.configs[cfg.ID]
	if !ok {
		return types.FieldConfig{}, ports.ErrFieldConfigNotFound
	}
	cur.Name = cfg.Name
	cur.Required = cfg.Required
	cur.ValidationExpr = cfg.ValidationExpr
	cur.Default = types.CloneStoredValues(cfg.Default)
	s.configs[cur.ID] = cur
	return types.CloneFieldConfig(cur), s.persistLocked(ctx)
}

// ---- values ----

func (s *Store) GetValues(ctx context.Context, issueID int64, fieldID string) ([]types.StoredValue, error) {
	defer s.rlock(ctx)()
	return types.CloneStoredValues(s.values[valueKey{issueID, fieldID}]), nil
}

func (s *Store) SetValues(ctx context.Context, issueID int64, fieldID string, rows []types.StoredValue) error {
	defer s.lock(ctx)()
	key := valueKey{issueID, fieldID}
	if len(rows) == 0 {
		delete(s.values, key)
	} else {
		s.values[key] = types.CloneStoredValues(rows)
	}
	return s.persistLocked(ctx)
}

func (s *Store) RemoveOptionValues(ctx context.Context, fieldID string, optionIDs []int64) ([]int64, error) {
	defer s.lock(ctx)()
	ids := map[string]bool{}
	for _, id := range optionIDs {
		ids[strconv.FormatInt(id, 10)] = true
	}
	var affected []int64
	for key, rows := range s.values {
		if key.fieldID != fieldID {
			continue
		}
		kept := rows[:0:0]
		for _, row := range rows {
			if !ids[row.String] {
				kept = append(kept, row)
			}
		}
		if len(kept) == len(rows) {
			continue
		}
		affected = append(affected, key.issueID)
		if len(kept) == 0 {
			delete(s.values, key)
		} else {
			s.values[key] = kept
		}
	}
	slices.Sort(affected)
	return affected, s.persistLocked(ctx)
}

// ---- issues ----

func (s *Store) CreateIssue(ctx context.Context, issue types.Issue) (types.Issue, error) {
	defer s.lock(ctx)()
	p, ok := s.projects[issue.ProjectID]
	if !ok {
		return types.Issue{}, ports.ErrProjectNotFound
	}
	if issue.Key == "" {
		n := 1
		for _, other := range s.issues {
			if other.ProjectID == p.ID {
				n++
			}
		}
		issue.Key = p.Key + "-" + strconv.Itoa(n)
	}
	for _, other := range s.issues {
		if other.Key == issue.Key {
			return types.Issue{}, ports.ErrIssueKeyConflict
		}
	}
	issue.ID = s.id()
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = s.now().UTC()
	}
	s.issues[issue.ID] = issue
	return issue, s.persistLocked(ctx)
}

func (s *Store) GetIssue(ctx context.Context, issueID int64) (types.Issue, error) {
	defer s.rlock(ctx)()
	i, ok := s.issues[issueID]
	if !ok {
		return types.Issue{}, ports.ErrIssueNotFound
	}
	return i, nil
}

func (s *Store) GetIssueByKey(ctx context.Context, key string) (types.Issue, error) {
	defer s.rlock(ctx)()
	key = strings.ToUpper(strings.TrimSpace(key))
	for _, i := range s.issues {
		if i.Key == key {
			return i, nil
		}
	}
	return types.Issue{}, ports.ErrIssueNotFound
}

func (s *Store) ListIssues(ctx context.Context, filter types.IssueFilter) ([]types.Issue, error) {
	defer s.rlock(ctx)()
	var out []types.Issue
	for _, i := range s.issues {
		if len(filter.ProjectIDs) > 0 && !slices.Contains(filter.ProjectIDs, i.ProjectID) {
			continue
		}
		if len(filter.IssueTypeIDs) > 0 && !slices.Contains(filter.IssueTypeIDs, i.IssueTypeID) {
			continue
		}
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b types.Issue) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) UpdateIssueType(ctx context.Context, issueID int64, issueTypeID string) (types.Issue, error) {
	defer s.lock(ctx)()
	i, ok := s.issues[issueID]
	if !ok {
		return types.Issue{}, ports.ErrIssueNotFound
	}
	i.IssueTypeID = issueTypeID
	i.UpdatedAt = s.now().UTC()
	s.issues[issueID] = i
	return i, s.persistLocked(ctx)
}

// ---- change log ----

func (s *Store) AppendChangeGroup(ctx context.Context, group types.ChangeGroup) (types.ChangeGroup, error) {
	defer s.lock(ctx)()
	if _, ok := s.issues[group.IssueID]; !ok {
		return types.ChangeGroup{}, ports.ErrIssueNotFound
	}
	group.ID = s.id()
	if group.Created.IsZero() {
		group.Created = s.now().UTC()
	}
	group.Items = slices.Clone(group.Items)
	s.changes[group.IssueID] = append(s.changes[group.IssueID], group)
	return group, s.persistLocked(ctx)
}

func (s *Store) ListChangeGroups(ctx context.Context, issueID int64) ([]types.ChangeGroup, error) {
	defer s.rlock(ctx)()
	groups := s.changes[issueID]
	out := make([]types.ChangeGroup, 0, len(groups))
	for _, g := range groups {
		g.Items = slices.Clone(g.Items)
		out = append(out, g)
	}
	return out, nil
}

// ---- snapshots ----

type storedValues struct {
	IssueID int64               `json:"issue_id"`
	FieldID string              `json:"field_id"`
	Rows    []types.StoredValue `json:"rows"`
}

type membership struct {
	Group string `json:"group"`
	User  string `json:"user"`
}

type state struct {
	NextID          int64                     `json:"next_id"`
	NextFieldNumber int64                     `json:"next_field_number"`
	Fields          []types.CustomField       `json:"fields"`
	Schemes         []types.FieldConfigScheme `json:"schemes"`
	Configs         []types.FieldConfig       `json:"configs"`
	Options         []types.Option            `json:"options"`
	Labels          []types.Label             `json:"labels"`
	Values          []storedValues            `json:"values"`
	Issues          []types.Issue             `json:"issues"`
	Projects        []types.Project           `json:"projects"`
	Versions        []types.Version           `json:"versions"`
	Users           []types.User              `json:"users"`
	Groups          []types.Group             `json:"groups"`
	Members         []membership              `json:"members"`
	Changes         []types.ChangeGroup       `json:"changes"`
}

func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.exportLocked())
}

func (s *Store) exportLocked() state {
	st := state{NextID: s.nextID, NextFieldNumber: s.nextFieldNumber}
	for _, f := range s.fields {
		st.Fields = append(st.Fields, f)
	}
	slices.SortFunc(st.Fields, func(a, b types.CustomField) int { return cmp.Compare(a.NumericID, b.NumericID) })
	for _, sc := range s.schemes {
		st.Schemes = append(st.Schemes, sc)
	}
	slices.SortFunc(st.Schemes, func(a, b types.FieldConfigScheme) int { return cmp.Compare(a.ID, b.ID) })
	for _, c := range s.configs {
		st.Configs = append(st.Configs, c)
	}
	slices.SortFunc(st.Configs, func(a, b types.FieldConfig) int { return cmp.Compare(a.ID, b.ID) })
	for _, o := range s.options {
		st.Options = append(st.Options, o)
	}
	slices.SortFunc(st.Options, func(a, b types.Option) int { return cmp.Compare(a.ID, b.ID) })
	for _, ls := range s.labels {
		st.Labels = append(st.Labels, ls...)
	}
	slices.SortFunc(st.Labels, func(a, b types.Label) int { return cmp.Compare(a.ID, b.ID) })
	for key, rows := range s.values {
		st.Values = append(st.Values, storedValues{IssueID: key.issueID, FieldID: key.fieldID, Rows: rows})
	}
	slices.SortFunc(st.Values, func(a, b storedValues) int {
		return cmp.Or(cmp.Compare(a.IssueID, b.IssueID), cmp.Compare(a.FieldID, b.FieldID))
	})
	for _, i := range s.issues {
		st.Issues = append(st.Issues, i)
	}
	slices.SortFunc(st.Issues, func(a, b types.Issue) int { return cmp.Compare(a.ID, b.ID) })
	for _, p := range s.projects {
		st.Projects = append(st.Projects, p)
	}
	slices.SortFunc(st.Projects, func(a, b types.Project) int { return cmp.Compare(a.ID, b.ID) })
	for _, v := range s.versions {
		st.Versions = append(st.Versions, v)
	}
	slices.SortFunc(st.Versions, func(a, b types.Version) int { return cmp.Compare(a.ID, b.ID) })
	for _, u := range s.users {
		st.Users = append(st.Users, u)
	}
	slices.SortFunc(st.Users, func(a, b types.User) int { return cmp.Compare(a.Name, b.Name) })
	for _, g := range s.groups {
		st.Groups = append(st.Groups, g)
	}
	slices.SortFunc(st.Groups, func(a, b types.Group) int { return cmp.Compare(a.Name, b.Name) })
	for g, users := range s.members {
		for u, ok := range users {
			if ok {
				st.Members = append(st.Members, membership{Group: g, User: u})
			}
		}
	}
	slices.SortFunc(st.Members, func(a, b membership) int {
		return cmp.Or(cmp.Compare(a.Group, b.Group), cmp.Compare(a.User, b.User))
	})
	for _, groups := range s.changes {
		st.Changes = append(st.Changes, groups...)
	}
	slices.SortFunc(st.Changes, func(a, b types.ChangeGroup) int { return cmp.Compare(a.ID, b.ID) })
	return st
}

// Restore replaces the whole state with a snapshot.
func (s *Store) Restore(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoreLocked(payload)
}

func (s *Store) restoreLocked(payload []byte) error {
	var st state
	if err := json.Unmarshal(payload, &st); err != nil {
		return fmt.Errorf("decode customfield snapshot: %w", err)
	}
	fresh := NewStore()
	fresh.nextID = max(st.NextID, 1)
	fresh.nextFieldNumber = max(st.NextFieldNumber, firstFieldNumber)
	for _, f := range st.Fields {
		fresh.fields[f.ID] = f
	}
	for _, sc := range st.Schemes {
		fresh.schemes[sc.ID] = sc
	}
	for _, c := range st.Configs {
		fresh.configs[c.ID] = c
	}
	for _, o := range st.Options {
		fresh.options[o.ID] = o
	}
	for _, l := range st.Labels {
		key := valueKey{l.IssueID, l.FieldID}
		fresh.labels[key] = append(fresh.labels[key], l)
	}
	for _, v := range st.Values {
		fresh.values[valueKey{v.IssueID, v.FieldID}] = v.Rows
	}
	for _, i := range st.Issues {
		fresh.issues[i.ID] = i
	}
	for _, p := range st.Projects {
		fresh.projects[p.ID] = p
	}
	for _, v := range st.Versions {
		fresh.versions[v.ID] = v
	}
	for _, u := range st.Users {
		fresh.users[u.Name] = u
	}
	for _, g := range st.Groups {
		fresh.groups[g.Name] = g
		fresh.members[g.Name] = map[string]bool{}
	}
	for _, m := range st.Members {
		if fresh.members[m.Group] == nil {
			fresh.members[m.Group] = map[string]bool{}
		}
		fresh.members[m.Group][m.User] = true
	}
	for _, c := range st.Changes {
		fresh.changes[c.IssueID] = append(fresh.changes[c.IssueID], c)
	}

	s.nextID = fresh.nextID
	s.nextFieldNumber = fresh.nextFieldNumber
	s.fields = fresh.fields
	s.schemes = fresh.schemes
	s.configs = fresh.configs
	s.options = fresh.options
	s.labels = fresh.labels
	s.values = fresh.values
	s.issues = fresh.issues
	s.projects = fresh.projects
	s.versions = fresh.versions
	s.users = fresh.users
	s.groups = fresh.groups
	s.members = fresh.members
	s.changes = fresh.changes
	return nil
}

var (
	_ ports.OptionsManager  = (*Store)(nil)
	_ ports.LabelManager    = (*Store)(nil)
	_ ports.VersionManager  = (*Store)(nil)
	_ ports.ProjectManager  = (*Store)(nil)
	_ ports.UserManager     = (*Store)(nil)
	_ ports.GroupManager    = (*Store)(nil)
	_ ports.FieldStore      = (*Store)(nil)
	_ ports.ValueStore      = (*Store)(nil)
	_ ports.IssueStore      = (*Store)(nil)
	_ ports.ChangeLogStore  = (*Store)(nil)
	_ ports.DirectoryWriter = (*Store)(nil)
	_ ports.Transactor      = (*Store)(nil)
)
