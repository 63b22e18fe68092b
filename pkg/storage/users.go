package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"
	"github.com/rubiojr/pulse/pkg/core"
	"golang.org/x/text/cases"
)

// fold normalizes s for case-insensitive comparison. A Caser is not safe for
// concurrent use, so each call builds its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

// CreateUser stores u, assigning an id and creation time when missing.
func (s *Store) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return core.User{}, core.InvalidArgument("create user", "username is required")
	}
	if u.ID == "" {
		u.ID = core.UserID(core.NewID())
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	var taken int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username_folded = ?`, fold(u.Username)).Scan(&taken)
	if err != nil {
		return core.User{}, fmt.Errorf("checking username %s: %w", u.Username, err)
	}
	if taken > 0 {
		return core.User{}, core.InvalidArgument("create user", "username %q already taken", u.Username)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, username_folded, name, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, fold(u.Username), u.Name, u.AvatarURL, formatTime(u.CreatedAt),
	)
	if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) || errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY) {
		return core.User{}, core.InvalidArgument("create user", "username %q or id already taken", u.Username)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("inserting user %s: %w", u.Username, err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id core.UserID) (core.User, error) {
	var (
		u         core.User
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, name, avatar_url, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.Name, &u.AvatarURL, &createdAt)
	if err == sql.ErrNoRows {
		return core.User{}, core.NotFound("get user", "user %s not found", id)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("getting user %s: %w", id, err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (s *Store) UserExists(ctx context.Context, id core.UserID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking user %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) PublicProfile(ctx context.Context, id core.UserID) (core.PublicProfile, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return core.PublicProfile{}, err
	}
	return u.Profile(), nil
}

// FindUsersByPattern returns users whose username contains pattern, ignoring
// case. A blank pattern matches nobody.
func (s *Store) FindUsersByPattern(ctx context.Context, pattern string, limit int) ([]core.PublicProfile, error) {
	out := []core.PublicProfile{}
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return out, nil
	}
	if limit <= 0 {
		limit = core.DefaultSearchLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, name, avatar_url FROM users
		WHERE instr(username_folded, ?) > 0
		ORDER BY username_folded ASC
		LIMIT ?`,
		fold(pattern), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer s.closeRows(rows)

	for rows.Next() {
		var p core.PublicProfile
		if err := rows.Scan(&p.ID, &p.Username, &p.Name, &p.AvatarURL); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
