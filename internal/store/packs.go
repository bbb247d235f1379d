package store

import (
	"context"
	"fmt"

	"github.com/streamspace-labs/orchestrator/internal/apierrors"
	"github.com/streamspace-labs/orchestrator/internal/model"
)

// CreatePack registers a new pack version. Packs are immutable once
// published: callers wanting a new version publish a new Pack record
// rather than mutating an existing one. A second registration of the same
// (name, version) pair is rejected with Conflict, leaving the first record
// untouched; the scan and the insert happen under the collection lock so
// racing registrations cannot both pass.
func (s *Store) CreatePack(ctx context.Context, p *model.Pack) error {
	now := timeNow()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.packs.mu.Lock()
	for _, ps := range s.packs.slots {
		ps.mu.RLock()
		dup := ps.rec.Name == p.Name && ps.rec.Version == p.Version
		ps.mu.RUnlock()
		if dup {
			s.packs.mu.Unlock()
			return apierrors.NewConflict(fmt.Sprintf("pack %s@%s already registered", p.Name, p.Version))
		}
	}
	s.packs.slots[p.ID] = &slot[*model.Pack]{rec: p}
	s.packs.mu.Unlock()

	if err := s.adapter.SavePack(ctx, p); err != nil {
		s.packs.delete(p.ID)
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	return nil
}

// GetPack returns a copy of the pack, or NotFound.
func (s *Store) GetPack(id string) (*model.Pack, error) {
	ps, ok := s.packs.get(id)
	if !ok {
		return nil, apierrors.NewNotFound("pack", id)
	}
	ps.mu.RLock()
	cp := *ps.rec
	ps.mu.RUnlock()
	return &cp, nil
}

// ListPacks returns every pack visible to the caller (admins see all;
// everyone else sees their own plus public packs).
func (s *Store) ListPacks(callerOwnerID string, isAdmin bool) []*model.Pack {
	var out []*model.Pack
	for _, ps := range s.packs.all() {
		ps.mu.RLock()
		if ps.rec.VisibleTo(callerOwnerID, isAdmin) {
			cp := *ps.rec
			out = append(out, &cp)
		}
		ps.mu.RUnlock()
	}
	return out
}

// GetPackByNameVersion looks up a pack by its (name, version) pair, used
// by the scheduler to resolve a pod's runtime-tag and minimum-runtime-
// version compatibility requirements.
func (s *Store) GetPackByNameVersion(name, version string) (*model.Pack, error) {
	for _, ps := range s.packs.all() {
		ps.mu.RLock()
		if ps.rec.Name == name && ps.rec.Version == version {
			cp := *ps.rec
			ps.mu.RUnlock()
			return &cp, nil
		}
		ps.mu.RUnlock()
	}
	return nil, apierrors.NewNotFound("pack", name+"@"+version)
}

// LatestVersion returns the newest pack record for name, used by
// followLatest deployments. Version comparison is lexicographic over the
// string as stored; callers publish versions in a sortable scheme (semver
// or a monotonically increasing build number).
func (s *Store) LatestVersion(name string) (*model.Pack, error) {
	var latest *model.Pack
	for _, ps := range s.packs.all() {
		ps.mu.RLock()
		if ps.rec.Name == name {
			cp := *ps.rec
			if latest == nil || cp.Version > latest.Version {
				latest = &cp
			}
		}
		ps.mu.RUnlock()
	}
	if latest == nil {
		return nil, apierrors.NewNotFound("pack", name)
	}
	return latest, nil
}

// DeletePack removes a pack record.
func (s *Store) DeletePack(ctx context.Context, id string) error {
	s.packs.delete(id)

	if err := s.adapter.DeletePack(ctx, id); err != nil {
		return apierrors.NewBackendUnavailable("durable adapter", err)
	}
	return nil
}
