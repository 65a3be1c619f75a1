package local

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is a self hosted identity.
type Account struct {
	bun.BaseModel  `bun:"table:accounts,alias:acc"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Email          string         `bun:"email,notnull,unique" json:"email"`
	PasswordHash   string         `bun:"password_hash,notnull" json:"-"`
	Metadata       map[string]any `bun:"metadata" json:"metadata,omitempty"`
	LoginAttempts  int            `bun:"login_attempts,notnull" json:"login_attempts"`
	LoginAttemptAt *time.Time     `bun:"login_attempt_at,nullzero" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time     `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Accounts stores self hosted identities.
type Accounts interface {
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Create(ctx context.Context, account *Account) (*Account, error)
	TrackAttemptedLogin(ctx context.Context, account *Account, at time.Time) error
	TrackSuccessfulLogin(ctx context.Context, account *Account, at time.Time) error
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var _ Accounts = (*accounts)(nil)

// NewAccountsRepository returns an Accounts repository backed by db. The
// auth migrations create the accounts table.
func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{Repository: repo, db: db}
}

func (a *accounts) GetByEmail(ctx context.Context, email string) (*Account, error) {
	record := &Account{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", normalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"email": email,
				})
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) Create(ctx context.Context, account *Account) (*Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Email = normalizeEmail(account.Email)
	return a.Repository.CreateTx(ctx, a.db, account)
}

func (a *accounts) TrackAttemptedLogin(ctx context.Context, account *Account, at time.Time) error {
	_, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("login_attempts = ?", account.LoginAttempts+1).
		Set("login_attempt_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", account.ID).
		Exec(ctx)
	return err
}

func (a *accounts) TrackSuccessfulLogin(ctx context.Context, account *Account, at time.Time) error {
	// NULL can not be written through a nullzero model field, reset with Set.
	_, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("loggedin_at = ?", at).
		Set("login_attempt_at = NULL").
		Set("login_attempts = 0").
		Set("updated_at = ?", at).
		Where("id = ?", account.ID).
		Exec(ctx)
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
