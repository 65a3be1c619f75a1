package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProfiles is a ProfileStore kept in memory. It backs tests and the
// development server.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	now      func() time.Time
}

var _ ProfileStore = (*MemoryProfiles)(nil)

// NewMemoryProfiles returns an empty store seeded with the given profiles.
func NewMemoryProfiles(seed ...*Profile) *MemoryProfiles {
	s := &MemoryProfiles{
		profiles: map[string]*Profile{},
		now:      time.Now,
	}
	for _, p := range seed {
		if p != nil {
			s.Save(context.Background(), p) //nolint:errcheck
		}
	}
	return s
}

func (s *MemoryProfiles) GetByUserID(_ context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	out := *p
	return &out, nil
}

func (s *MemoryProfiles) Save(_ context.Context, profile *Profile) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	record := *profile
	if existing, ok := s.profiles[profile.UserID]; ok {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		record.CreatedAt = &now
	}
	if record.Role == "" {
		record.Role = RoleStudent
	}
	record.UpdatedAt = &now

	s.profiles[record.UserID] = &record
	out := record
	return &out, nil
}

// ListProfiles returns profiles newest first. An empty tenantID lists every profile.
func (s *MemoryProfiles) ListProfiles(_ context.Context, tenantID string) ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if tenantID != "" && p.TenantID != tenantID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(*out[j].CreatedAt)
	})

	return out, nil
}
