package store

import (
	"database/sql"
	"fmt"
)

// FetchRun is one recorded retrieval operation.
type FetchRun struct {
	ID             int64
	AccountID      int64
	ConversationID string
	StartDay       string
	EndDay         string
	StartedAt      sql.NullTime
	CompletedAt    sql.NullTime
	Status         string
	ChunksTotal    int64
	ChunksFailed   int64
	MessagesMerged int64
	ErrorMessage   sql.NullString
}

// StartFetchRun records the beginning of a retrieval and returns its id.
func (s *Store) StartFetchRun(accountID int64, conversationID, startDay, endDay string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO fetch_runs (account_id, conversation_id, start_day, end_day, status)
		VALUES (?, ?, ?, ?, 'running')`,
		accountID, conversationID, startDay, endDay)
	if err != nil {
		return 0, fmt.Errorf("insert fetch run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("fetch run id: %w", err)
	}
	return id, nil
}

// CompleteFetchRun marks the run finished. A run with failed chunks is still
// completed; partial coverage is recorded, not treated as failure.
func (s *Store) CompleteFetchRun(runID, chunksTotal, chunksFailed, messagesMerged int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE fetch_runs
			SET completed_at = CURRENT_TIMESTAMP, status = 'completed',
			    chunks_total = ?, chunks_failed = ?, messages_merged = ?
			WHERE id = ?`,
			chunksTotal, chunksFailed, messagesMerged, runID)
		if err != nil {
			return fmt.Errorf("complete fetch run: %w", err)
		}
		_, err = tx.Exec(`
			UPDATE accounts
			SET last_fetch_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = (SELECT account_id FROM fetch_runs WHERE id = ?)`, runID)
		if err != nil {
			return fmt.Errorf("touch account: %w", err)
		}
		return nil
	})
}

// FailFetchRun marks the run failed with the given message.
func (s *Store) FailFetchRun(runID int64, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE fetch_runs
		SET completed_at = CURRENT_TIMESTAMP, status = 'failed', error_message = ?
		WHERE id = ?`,
		errMsg, runID)
	if err != nil {
		return fmt.Errorf("fail fetch run: %w", err)
	}
	return nil
}

// LastRun returns the most recently started run for the conversation, or
// nil when none exists.
func (s *Store) LastRun(accountID int64, conversationID string) (*FetchRun, error) {
	row := s.db.QueryRow(`
		SELECT id, account_id, conversation_id, start_day, end_day,
		       started_at, completed_at, status,
		       chunks_total, chunks_failed, messages_merged, error_message
		FROM fetch_runs
		WHERE account_id = ? AND conversation_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1`,
		accountID, conversationID)

	var r FetchRun
	err := row.Scan(&r.ID, &r.AccountID, &r.ConversationID, &r.StartDay, &r.EndDay,
		&r.StartedAt, &r.CompletedAt, &r.Status,
		&r.ChunksTotal, &r.ChunksFailed, &r.MessagesMerged, &r.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query fetch run: %w", err)
	}
	return &r, nil
}
