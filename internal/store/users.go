package store

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/p-blackswan/specforge/internal/models"
)

const userColumns = `id, email, name, tier, created_at`

// CreateUser inserts a user. ID and CreatedAt are filled in when empty.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}
	if u.Tier == "" {
		u.Tier = models.TierFree
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, string(u.Tier), millis(u.CreatedAt),
	)
	return classify("store.CreateUser", err)
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, lookupErr("store.GetUser", "user", id, err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
	u, err := scanUser(row)
	if err != nil {
		return nil, lookupErr("store.GetUserByEmail", "user", email, err)
	}
	return u, nil
}

// UpdateUserTier changes a user's subscription tier.
func (s *Store) UpdateUserTier(ctx context.Context, id string, tier models.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE users SET tier = ? WHERE id = ?`, string(tier), id)
	if err != nil {
		return classify("store.UpdateUserTier", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lookupErr("store.UpdateUserTier", "user", id, errNoRows)
	}
	return nil
}

func scanUser(r rowScanner) (*models.User, error) {
	u := &models.User{}
	var tier string
	var created int64
	if err := r.Scan(&u.ID, &u.Email, &u.Name, &tier, &created); err != nil {
		return nil, err
	}
	u.Tier = models.Tier(tier)
	u.CreatedAt = fromMillis(created)
	return u, nil
}
