package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	// registers the "postgres" driver
	_ "github.com/lib/pq"
	"github.com/mosaicnetworks/callrelay/src/mailbox"
)

// PostgresStore implements mailbox.Board on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn, checks the connection and creates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &PostgresStore{db: db}

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS signaling_records (
			id BIGSERIAL PRIMARY KEY,
			call_id VARCHAR(255) NOT NULL,
			sender VARCHAR(255) NOT NULL,
			type VARCHAR(64) NOT NULL,
			content TEXT NOT NULL,
			target_user VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_records_call_type
		ON signaling_records(call_id, type, id)`,

		`CREATE TABLE IF NOT EXISTS call_participants (
			call_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (call_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS group_calls (
			call_id VARCHAR(255) PRIMARY KEY,
			created_by VARCHAR(255) NOT NULL,
			session_key TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS call_invitations (
			call_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			PRIMARY KEY (call_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS user_keys (
			user_id VARCHAR(255) PRIMARY KEY,
			public_key TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}

	return nil
}

// Append implements mailbox.Board
func (s *PostgresStore) Append(ctx context.Context, rec mailbox.Record) (mailbox.Record, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO signaling_records (call_id, sender, type, content, target_user, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rec.CallID, rec.Sender, string(rec.Type), rec.Content, rec.TargetUser, time.Now()).Scan(&rec.ID)
	if err != nil {
		return mailbox.Record{}, err
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]mailbox.Record, error) {
	defer rows.Close()

	res := []mailbox.Record{}
	for rows.Next() {
		var r mailbox.Record
		var t string
		if err := rows.Scan(&r.ID, &r.CallID, &r.Sender, &t, &r.Content, &r.TargetUser); err != nil {
			return nil, err
		}
		r.Type = mailbox.Type(t)
		res = append(res, r)
	}

	return res, rows.Err()
}

// List implements mailbox.Board
func (s *PostgresStore) List(ctx context.Context, callID string, t mailbox.Type, forUser string) ([]mailbox.Record, error) {
	var rows *sql.Rows
	var err error

	if forUser == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, call_id, sender, type, content, target_user FROM signaling_records
			WHERE call_id = $1 AND type = $2
			ORDER BY id`, callID, string(t))
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, call_id, sender, type, content, target_user FROM signaling_records
			WHERE call_id = $1 AND type = $2
			AND (target_user = $3 OR (target_user = '' AND sender <> $3))
			ORDER BY id`, callID, string(t), forUser)
	}
	if err != nil {
		return nil, err
	}

	return scanRecords(rows)
}

// Inbox implements mailbox.Board
func (s *PostgresStore) Inbox(ctx context.Context, user string) ([]mailbox.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_id, sender, type, content, target_user FROM signaling_records
		WHERE type IN ($2, $3, $4)
		AND (target_user = $1 OR (target_user = '' AND sender <> $1))
		ORDER BY id`,
		user,
		string(mailbox.TypeOffer),
		string(mailbox.TypeOffer.Meta()),
		string(mailbox.TypeSessionKey))
	if err != nil {
		return nil, err
	}

	candidates, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	res := []mailbox.Record{}
	for _, r := range candidates {
		if mailbox.InboxMatch(r, user) {
			res = append(res, r)
		}
	}

	return res, nil
}

// Purge implements mailbox.Board
func (s *PostgresStore) Purge(ctx context.Context, callID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM signaling_records WHERE call_id = $1`, callID)
	return err
}

// Join implements mailbox.Board
func (s *PostgresStore) Join(ctx context.Context, callID, user string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO call_participants (call_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (call_id, user_id) DO NOTHING`,
		callID, user, time.Now())
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM call_invitations WHERE call_id = $1 AND user_id = $2`,
		callID, user)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Leave implements mailbox.Board
func (s *PostgresStore) Leave(ctx context.Context, callID, user string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM call_participants WHERE call_id = $1 AND user_id = $2`,
		callID, user)
	return err
}

// Participants implements mailbox.Board
func (s *PostgresStore) Participants(ctx context.Context, callID string) ([]string, error) {
	return s.strings(ctx, `
		SELECT user_id FROM call_participants
		WHERE call_id = $1 ORDER BY user_id`, callID)
}

func (s *PostgresStore) strings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}

	return res, rows.Err()
}

// CreateGroup implements mailbox.Board
func (s *PostgresStore) CreateGroup(ctx context.Context, creator string, members []string, material string) (string, error) {
	callID := mailbox.GroupPrefix + uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_calls (call_id, created_by, session_key, created_at)
		VALUES ($1, $2, $3, $4)`,
		callID, creator, material, time.Now())
	if err != nil {
		return "", err
	}

	for _, m := range mailbox.UniqueMembers(creator, members) {
		if m == creator {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO call_invitations (call_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (call_id, user_id) DO NOTHING`,
			callID, m)
		if err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	return callID, nil
}

// SessionKey implements mailbox.Board
func (s *PostgresStore) SessionKey(ctx context.Context, callID string) (string, error) {
	var material string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_key FROM group_calls WHERE call_id = $1`, callID).Scan(&material)
	if err == sql.ErrNoRows || (err == nil && material == "") {
		return "", mailbox.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return material, nil
}

// Invitations implements mailbox.Board
func (s *PostgresStore) Invitations(ctx context.Context, user string) ([]string, error) {
	return s.strings(ctx, `
		SELECT call_id FROM call_invitations
		WHERE user_id = $1 ORDER BY call_id`, user)
}

// SetPublicKey implements mailbox.Board
func (s *PostgresStore) SetPublicKey(ctx context.Context, user, pem string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_keys (user_id, public_key, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET public_key = $2, updated_at = $3`,
		user, pem, time.Now())
	return err
}

// PublicKey implements mailbox.Board
func (s *PostgresStore) PublicKey(ctx context.Context, user string) (string, error) {
	var pem string
	err := s.db.QueryRowContext(ctx, `
		SELECT public_key FROM user_keys WHERE user_id = $1`, user).Scan(&pem)
	if err == sql.ErrNoRows {
		return "", mailbox.ErrNotFound
	}
	return pem, err
}
