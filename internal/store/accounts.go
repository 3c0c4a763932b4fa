package store

import (
	"database/sql"
	"fmt"
)

// Account represents a chat platform account.
type Account struct {
	ID          int64
	Platform    string
	Identifier  string
	DisplayName sql.NullString
	Timezone    string
	LastFetchAt sql.NullTime
	CreatedAt   sql.NullTime
	UpdatedAt   sql.NullTime
}

// GetOrCreateAccount returns the account for (platform, identifier),
// creating it with the given timezone if it doesn't exist. An existing
// account keeps its stored timezone.
func (s *Store) GetOrCreateAccount(platform, identifier, timezone string) (*Account, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	_, err := s.db.Exec(`
		INSERT INTO accounts (platform, identifier, timezone)
		VALUES (?, ?, ?)
		ON CONFLICT (platform, identifier) DO NOTHING`,
		platform, identifier, timezone)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return s.GetAccount(platform, identifier)
}

// GetAccount returns the account for (platform, identifier).
func (s *Store) GetAccount(platform, identifier string) (*Account, error) {
	row := s.db.QueryRow(`
		SELECT id, platform, identifier, display_name, timezone,
		       last_fetch_at, created_at, updated_at
		FROM accounts
		WHERE platform = ? AND identifier = ?`,
		platform, identifier)

	var a Account
	err := row.Scan(&a.ID, &a.Platform, &a.Identifier, &a.DisplayName,
		&a.Timezone, &a.LastFetchAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s/%s not found", platform, identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &a, nil
}

// ListAccounts returns all accounts, optionally filtered by platform.
func (s *Store) ListAccounts(platform string) ([]*Account, error) {
	query := `
		SELECT id, platform, identifier, display_name, timezone,
		       last_fetch_at, created_at, updated_at
		FROM accounts`
	var args []any
	if platform != "" {
		query += ` WHERE platform = ?`
		args = append(args, platform)
	}
	query += ` ORDER BY platform, identifier`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Platform, &a.Identifier, &a.DisplayName,
			&a.Timezone, &a.LastFetchAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// TouchAccountFetch records a fetch against the account.
func (s *Store) TouchAccountFetch(accountID int64) error {
	_, err := s.db.Exec(`
		UPDATE accounts
		SET last_fetch_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("update account fetch time: %w", err)
	}
	return nil
}
