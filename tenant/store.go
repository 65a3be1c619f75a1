package tenant

import (
	"context"
	"database/sql"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Store lists and creates the organisations of a user.
type Store interface {
	ListForUser(ctx context.Context, userID string) ([]Tenant, error)
	// Create persists t and makes ownerID its owner.
	Create(ctx context.Context, t Tenant, ownerID string) (Tenant, error)
	// AddMember links userID to an existing tenant.
	AddMember(ctx context.Context, tenantID, userID, role string) error
}

// MemoryStore keeps tenants in memory, they are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
	order   []string
	members map[string]map[string]string
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: map[string]Tenant{},
		members: map[string]map[string]string{},
		now:     time.Now,
	}
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Tenant{}
	memberships := s.members[userID]
	for _, tenantID := range s.order {
		if _, ok := memberships[tenantID]; ok {
			out = append(out, s.tenants[tenantID])
		}
	}

	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, t Tenant, ownerID string) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[t.ID]; exists {
		return Tenant{}, goerrors.New("tenant already exists", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict)
	}

	now := s.now()
	t.CreatedAt = &now
	t.UpdatedAt = &now
	t.OwnerID = ownerID
	s.tenants[t.ID] = t
	s.order = append(s.order, t.ID)
	s.addMemberLocked(t.ID, ownerID, MemberRoleOwner)

	return t, nil
}

func (s *MemoryStore) AddMember(_ context.Context, tenantID, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[tenantID]; !ok {
		return goerrors.New("tenant not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound)
	}
	s.addMemberLocked(tenantID, userID, role)
	return nil
}

func (s *MemoryStore) addMemberLocked(tenantID, userID, role string) {
	if userID == "" {
		return
	}
	if s.members[userID] == nil {
		s.members[userID] = map[string]string{}
	}
	s.members[userID][tenantID] = role
}

// BunStore keeps tenants in the tenants and tenant_members tables.
type BunStore struct {
	db  *bun.DB
	now func() time.Time
}

var _ Store = (*BunStore)(nil)

// NewBunStore returns a Store backed by db. The auth migrations create its tables.
func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db, now: time.Now}
}

func (s *BunStore) ListForUser(ctx context.Context, userID string) ([]Tenant, error) {
	records := []Tenant{}
	err := s.db.NewSelect().
		Model(&records).
		Join("JOIN tenant_members AS tm ON tm.tenant_id = tn.id").
		Where("tm.user_id = ?", userID).
		OrderExpr("tn.created_at ASC").
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list tenants")
	}
	return records, nil
}

func (s *BunStore) Create(ctx context.Context, t Tenant, ownerID string) (Tenant, error) {
	now := s.now()
	t.CreatedAt = &now
	t.UpdatedAt = &now
	t.OwnerID = ownerID

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&t).Exec(ctx); err != nil {
			return err
		}
		if ownerID == "" {
			return nil
		}
		member := &Member{TenantID: t.ID, UserID: ownerID, Role: MemberRoleOwner, CreatedAt: &now}
		_, err := tx.NewInsert().Model(member).Exec(ctx)
		return err
	})
	if err != nil {
		return Tenant{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create tenant")
	}

	return t, nil
}

func (s *BunStore) AddMember(ctx context.Context, tenantID, userID, role string) error {
	now := s.now()
	member := &Member{TenantID: tenantID, UserID: userID, Role: role, CreatedAt: &now}
	_, err := s.db.NewInsert().
		Model(member).
		On("CONFLICT (tenant_id, user_id) DO UPDATE").
		Set("role = EXCLUDED.role").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to add tenant member")
	}
	return nil
}
