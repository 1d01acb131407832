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

	"github.com/jacksonlee411/issuefields/internal/snapshot"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/ports"
	"github.com/jacksonlee411/issuefields/modules/issuetypescheme/domain/types"
)

// Store keeps issue types, schemes and migration sessions in memory.
type Store struct {
	mu sync.RWMutex

	nextTypeID   int64
	nextSchemeID int64

	issueTypes map[string]types.IssueType
	schemes    map[int64]types.Scheme
	sessions   map[string]types.MigrationSession

	persister snapshot.Persister
	bucket    string
}

func NewStore() *Store {
	return &Store{
		nextTypeID:   1,
		nextSchemeID: 1,
		issueTypes:   map[string]types.IssueType{},
		schemes:      map[int64]types.Scheme{},
		sessions:     map[string]types.MigrationSession{},
	}
}

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

func (s *Store) persistLocked(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	payload, err := json.Marshal(s.exportLocked())
	if err != nil {
		return err
	}
	return s.persister.Save(ctx, s.bucket, payload)
}

// ---- issue types ----

func (s *Store) CreateIssueType(ctx context.Context, t types.IssueType) (types.IssueType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.issueTypes {
		if strings.EqualFold(existing.Name, t.Name) {
			return types.IssueType{}, ports.ErrIssueTypeNameConflict
		}
	}
	if t.ID == "" {
		for {
			t.ID = strconv.FormatInt(s.nextTypeID, 10)
			s.nextTypeID++
			if _, taken := s.issueTypes[t.ID]; !taken {
				break
			}
		}
	} else if _, taken := s.issueTypes[t.ID]; taken {
		return types.IssueType{}, ports.ErrIssueTypeNameConflict
	}
	s.issueTypes[t.ID] = t
	return t, s.persistLocked(ctx)
}

func (s *Store) GetIssueType(_ context.Context, id string) (types.IssueType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.issueTypes[id]
	if !ok {
		return types.IssueType{}, ports.ErrIssueTypeNotFound
	}
	return t, nil
}

func (s *Store) ListIssueTypes(_ context.Context) ([]types.IssueType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.IssueType, 0, len(s.issueTypes))
	for _, t := range s.issueTypes {
		out = append(out, t)
	}
	slices.SortFunc(out, compareIssueTypes)
	return out, nil
}

// compareIssueTypes orders numeric ids numerically.
func compareIssueTypes(a, b types.IssueType) int {
	an, aerr := strconv.ParseInt(a.ID, 10, 64)
	bn, berr := strconv.ParseInt(b.ID, 10, 64)
	if aerr == nil && berr == nil {
		return cmp.Compare(an, bn)
	}
	return cmp.Compare(a.ID, b.ID)
}

func (s *Store) DeleteIssueType(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issueTypes[id]; !ok {
		return ports.ErrIssueTypeNotFound
	}
	delete(s.issueTypes, id)
	for sid, sc := range s.schemes {
		sc.IssueTypeIDs = slices.DeleteFunc(sc.IssueTypeIDs, func(x string) bool { return x == id })
		if sc.DefaultIssueTypeID == id {
			sc.DefaultIssueTypeID = ""
		}
		s.schemes[sid] = sc
	}
	return s.persistLocked(ctx)
}

// ---- schemes ----

func (s *Store) nameTakenLocked(name string, except int64) bool {
	for _, sc := range s.schemes {
		if sc.ID != except && strings.EqualFold(sc.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) CreateScheme(ctx context.Context, sc types.Scheme) (types.Scheme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nameTakenLocked(sc.Name, 0) {
		return types.Scheme{}, ports.ErrSchemeNameConflict
	}
	if sc.IsDefault {
		for _, existing := range s.schemes {
			if existing.IsDefault {
				return types.Scheme{}, ports.ErrSchemeNameConflict
			}
		}
		sc.ProjectIDs = nil
	}
	sc = types.CloneScheme(sc)
	sc.ID = s.nextSchemeID
	s.nextSchemeID++
	if !sc.IsDefault {
		s.detachLocked(sc.ProjectIDs)
	}
	s.schemes[sc.ID] = sc
	return types.CloneScheme(sc), s.persistLocked(ctx)
}

func (s *Store) GetScheme(_ context.Context, id int64) (types.Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schemes[id]
	if !ok {
		return types.Scheme{}, ports.ErrSchemeNotFound
	}
	return types.CloneScheme(sc), nil
}

func (s *Store) GetDefaultScheme(_ context.Context) (types.Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range s.schemes {
		if sc.IsDefault {
			return types.CloneScheme(sc), nil
		}
	}
	return types.Scheme{}, ports.ErrDefaultSchemeMissing
}

func (s *Store) ListSchemes(_ context.Context) ([]types.Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Scheme, 0, len(s.schemes))
	for _, sc := range s.schemes {
		out = append(out, types.CloneScheme(sc))
	}
	slices.SortFunc(out, func(a, b types.Scheme) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) UpdateScheme(ctx context.Context, sc types.Scheme) (types.Scheme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.schemes[sc.ID]
	if !ok {
		return types.Scheme{}, ports.ErrSchemeNotFound
	}
	if s.nameTakenLocked(sc.Name, sc.ID) {
		return types.Scheme{}, ports.ErrSchemeNameConflict
	}
	cur.Name = sc.Name
	cur.Description = sc.Description
	cur.DefaultIssueTypeID = sc.DefaultIssueTypeID
	cur.IssueTypeIDs = slices.Clone(sc.IssueTypeIDs)
	s.schemes[sc.ID] = cur
	return types.CloneScheme(cur), s.persistLocked(ctx)
}

func (s *Store) DeleteScheme(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemes[id]; !ok {
		return ports.ErrSchemeNotFound
	}
	delete(s.schemes, id)
	return s.persistLocked(ctx)
}

func (s *Store) SchemeForProject(_ context.Context, projectID int64) (types.Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range s.schemes {
		if !sc.IsDefault && slices.Contains(sc.ProjectIDs, projectID) {
			return types.CloneScheme(sc), nil
		}
	}
	return types.Scheme{}, ports.ErrSchemeNotFound
}

func (s *Store) AssignProjects(ctx context.Context, schemeID int64, projectIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.schemes[schemeID]
	if !ok {
		return ports.ErrSchemeNotFound
	}
	s.detachLocked(projectIDs)
	if !target.IsDefault {
		target = s.schemes[schemeID]
		for _, pid := range projectIDs {
			if !slices.Contains(target.ProjectIDs, pid) {
				target.ProjectIDs = append(target.ProjectIDs, pid)
			}
		}
		slices.Sort(target.ProjectIDs)
		s.schemes[schemeID] = target
	}
	return s.persistLocked(ctx)
}

func (s *Store) detachLocked(projectIDs []int64) {
	for id, sc := range s.schemes {
		kept := slices.DeleteFunc(slices.Clone(sc.ProjectIDs), func(p int64) bool { return slices.Contains(projectIDs, p) })
		if len(kept) != len(sc.ProjectIDs) {
			sc.ProjectIDs = kept
			s.schemes[id] = sc
		}
	}
}

// ---- migration sessions ----

func (s *Store) SaveSession(ctx context.Context, sess types.MigrationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = types.CloneSession(sess)
	return s.persistLocked(ctx)
}

func (s *Store) GetSession(_ context.Context, id string) (types.MigrationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return types.MigrationSession{}, ports.ErrSessionNotFound
	}
	return types.CloneSession(sess), nil
}

// ---- snapshots ----

type state struct {
	NextTypeID   int64                    `json:"next_type_id"`
	NextSchemeID int64                    `json:"next_scheme_id"`
	IssueTypes   []types.IssueType        `json:"issue_types"`
	Schemes      []types.Scheme           `json:"schemes"`
	Sessions     []types.MigrationSession `json:"sessions"`
}

func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.exportLocked())
}

func (s *Store) exportLocked() state {
	st := state{NextTypeID: s.nextTypeID, NextSchemeID: s.nextSchemeID}
	for _, t := range s.issueTypes {
		st.IssueTypes = append(st.IssueTypes, t)
	}
	slices.SortFunc(st.IssueTypes, compareIssueTypes)
	for _, sc := range s.schemes {
		st.Schemes = append(st.Schemes, sc)
	}
	slices.SortFunc(st.Schemes, func(a, b types.Scheme) int { return cmp.Compare(a.ID, b.ID) })
	for _, sess := range s.sessions {
		st.Sessions = append(st.Sessions, sess)
	}
	slices.SortFunc(st.Sessions, func(a, b types.MigrationSession) int { return cmp.Compare(a.ID, b.ID) })
	return st
}

func (s *Store) Restore(payload []byte) error {
	var st state
	if err := json.Unmarshal(payload, &st); err != nil {
		return fmt.Errorf("decode issuetypescheme snapshot: %w", err)
	}
	fresh := NewStore()
	fresh.nextTypeID = max(st.NextTypeID, 1)
	fresh.nextSchemeID = max(st.NextSchemeID, 1)
	for _, t := range st.IssueTypes {
		fresh.issueTypes[t.ID] = t
	}
	for _, sc := range st.Schemes {
		fresh.schemes[sc.ID] = sc
	}
	for _, sess := range st.Sessions {
		fresh.sessions[sess.ID] = sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTypeID = fresh.nextTypeID
	s.nextSchemeID = fresh.nextSchemeID
	s.issueTypes = fresh.issueTypes
	s.schemes = fresh.schemes
	s.sessions = fresh.sessions
	return nil
}

var (
	_ ports.IssueTypeStore = (*Store)(nil)
	_ ports.SchemeStore    = (*Store)(nil)
	_ ports.SessionStore   = (*Store)(nil)
)
