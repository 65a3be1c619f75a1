package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles is the bun backed profile repository.
type Profiles interface {
	repository.Repository[*Profile]
	ProfileStore

	GetByUserIDTx(ctx context.Context, tx bun.IDB, userID string) (*Profile, error)
	SaveTx(ctx context.Context, tx bun.IDB, profile *Profile) (*Profile, error)
	ListProfiles(ctx context.Context, tenantID string) ([]*Profile, error)
}

type profiles struct {
	repository.Repository[*Profile]
	db  *bun.DB
	now func() time.Time
}

var _ Profiles = (*profiles)(nil)

// NewProfilesRepository returns a Profiles repository backed by db.
func NewProfilesRepository(db *bun.DB) Profiles {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "user_id"
		},
	})

	return &profiles{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

func (p *profiles) GetByUserID(ctx context.Context, userID string) (*Profile, error) {
	return p.GetByUserIDTx(ctx, p.db, userID)
}

func (p *profiles) GetByUserIDTx(ctx context.Context, tx bun.IDB, userID string) (*Profile, error) {
	record := &Profile{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id": userID,
				})
		}
		return nil, err
	}

	return record, nil
}

func (p *profiles) Save(ctx context.Context, profile *Profile) (*Profile, error) {
	return p.SaveTx(ctx, p.db, profile)
}

// SaveTx inserts the profile or overwrites the stored one with the same user id.
func (p *profiles) SaveTx(ctx context.Context, tx bun.IDB, profile *Profile) (*Profile, error) {
	existing, err := p.GetByUserIDTx(ctx, tx, profile.UserID)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, err
	}

	now := p.now()

	if existing == nil {
		if profile.ID == uuid.Nil {
			profile.ID = uuid.New()
		}
		if profile.Role == "" {
			profile.Role = RoleStudent
		}
		profile.CreatedAt = &now
		profile.UpdatedAt = &now
		return p.Repository.CreateTx(ctx, tx, profile)
	}

	profile.ID = existing.ID
	profile.CreatedAt = existing.CreatedAt
	profile.UpdatedAt = &now

	_, err = tx.NewUpdate().
		Model(profile).
		Column("email", "display_name", "role", "avatar", "phone_number", "tenant_id", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return profile, nil
}

// ListProfiles returns profiles newest first. An empty tenantID lists every profile.
func (p *profiles) ListProfiles(ctx context.Context, tenantID string) ([]*Profile, error) {
	records := []*Profile{}
	q := p.db.NewSelect().Model(&records).OrderExpr("?TableAlias.created_at DESC")
	if tenantID != "" {
		q = q.Where("?TableAlias.tenant_id = ?", tenantID)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	return records, nil
}
