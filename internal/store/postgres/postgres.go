// Package postgres implements the drip entity store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/ignite/drip-engine/internal/drip"
)

// Store is the PostgreSQL-backed entity store. Tables are created by the
// migrations under migrations/.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for advisory locks and shutdown.
func (st *Store) DB() *sql.DB { return st.db }

// Close closes the underlying handle.
func (st *Store) Close() error { return st.db.Close() }

const subscriptionColumns = `id, campaign_slug, subscriber_type, subscriber_id, user_type, user_id,
	token, ended_at, ended_reason, unsubscribed_at, unsubscribe_reason, resubscribed_at,
	created_at, updated_at`

func (st *Store) CreateSubscription(ctx context.Context, s *drip.Subscription) error {
	var userType, userID sql.NullString
	if s.User != nil {
		userType = sql.NullString{String: s.User.Type, Valid: true}
		userID = sql.NullString{String: s.User.ID, Valid: true}
	}
	_, err := st.db.ExecContext(ctx, `
		INSERT INTO drip_subscriptions
			(id, campaign_slug, subscriber_type, subscriber_id, user_type, user_id,
			 token, ended_at, ended_reason, unsubscribed_at, unsubscribe_reason, resubscribed_at,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.CampaignSlug, s.Subscriber.Type, s.Subscriber.ID, userType, userID,
		s.Token, nullTime(s.EndedAt), nullString(s.EndedReason),
		nullTime(s.UnsubscribedAt), nullString(s.UnsubscribeReason), nullTime(s.ResubscribedAt),
		s.CreatedAt, s.UpdatedAt)
	return err
}

func (st *Store) UpdateSubscription(ctx context.Context, s *drip.Subscription) error {
	res, err := st.db.ExecContext(ctx, `
		UPDATE drip_subscriptions
		SET ended_at = $2, ended_reason = $3,
		    unsubscribed_at = $4, unsubscribe_reason = $5,
		    resubscribed_at = $6, updated_at = $7
		WHERE id = $1`,
		s.ID, nullTime(s.EndedAt), nullString(s.EndedReason),
		nullTime(s.UnsubscribedAt), nullString(s.UnsubscribeReason),
		nullTime(s.ResubscribedAt), s.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("subscription %s does not exist", s.ID)
	}
	return err
}

func (st *Store) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	// Mailings go with it via ON DELETE CASCADE.
	_, err := st.db.ExecContext(ctx, `DELETE FROM drip_subscriptions WHERE id = $1`, id)
	return err
}

func (st *Store) SubscriptionByID(ctx context.Context, id uuid.UUID) (*drip.Subscription, error) {
	row := st.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM drip_subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (st *Store) SubscriptionByToken(ctx context.Context, token string) (*drip.Subscription, error) {
	row := st.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM drip_subscriptions WHERE token = $1`, token)
	return scanSubscription(row)
}

func (st *Store) FindSubscription(ctx context.Context, campaignSlug string, subscriber drip.EntityRef, user *drip.EntityRef) (*drip.Subscription, error) {
	var userType, userID sql.NullString
	if user != nil {
		userType = sql.NullString{String: user.Type, Valid: true}
		userID = sql.NullString{String: user.ID, Valid: true}
	}
	row := st.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM drip_subscriptions
		WHERE campaign_slug = $1
		  AND subscriber_type = $2 AND subscriber_id = $3
		  AND user_type IS NOT DISTINCT FROM $4
		  AND user_id IS NOT DISTINCT FROM $5
		  AND ended_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`,
		campaignSlug, subscriber.Type, subscriber.ID, userType, userID)
	return scanSubscription(row)
}

func (st *Store) TokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := st.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM drip_subscriptions WHERE token = $1)`, token).Scan(&exists)
	return exists, err
}

const mailingColumns = `id, subscription_id, mailer, action, step, send_at, sent_at, skipped_at,
	claimed_at, created_at, updated_at`

func (st *Store) CreateMailing(ctx context.Context, m *drip.Mailing) error {
	_, err := st.db.ExecContext(ctx, `
		INSERT INTO drip_mailings
			(id, subscription_id, mailer, action, step, send_at, sent_at, skipped_at,
			 claimed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.SubscriptionID, m.Mailer, m.Action, m.Step, m.SendAt,
		nullTime(m.SentAt), nullTime(m.SkippedAt), nullTime(m.ClaimedAt),
		m.CreatedAt, m.UpdatedAt)
	return err
}

func (st *Store) UpdateMailing(ctx context.Context, m *drip.Mailing) error {
	res, err := st.db.ExecContext(ctx, `
		UPDATE drip_mailings
		SET send_at = $2, sent_at = $3, skipped_at = $4, claimed_at = $5, updated_at = $6
		WHERE id = $1`,
		m.ID, m.SendAt, nullTime(m.SentAt), nullTime(m.SkippedAt), nullTime(m.ClaimedAt), m.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("mailing %s does not exist", m.ID)
	}
	return err
}

func (st *Store) MailingByID(ctx context.Context, id uuid.UUID) (*drip.Mailing, error) {
	row := st.db.QueryRowContext(ctx,
		`SELECT `+mailingColumns+` FROM drip_mailings WHERE id = $1`, id)
	return scanMailing(row)
}

func (st *Store) MailingsForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*drip.Mailing, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT `+mailingColumns+`
		FROM drip_mailings
		WHERE subscription_id = $1
		ORDER BY send_at ASC, step ASC, id ASC`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMailings(rows)
}

func (st *Store) PendingMailingCount(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	var count int
	err := st.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM drip_mailings
		WHERE subscription_id = $1 AND sent_at IS NULL AND skipped_at IS NULL`,
		subscriptionID).Scan(&count)
	return count, err
}

func (st *Store) DueMailings(ctx context.Context, campaignSlug string, now time.Time, limit int, after *drip.MailingCursor) ([]*drip.Mailing, error) {
	query := `
		SELECT m.id, m.subscription_id, m.mailer, m.action, m.step, m.send_at,
		       m.sent_at, m.skipped_at, m.claimed_at, m.created_at, m.updated_at
		FROM drip_mailings m
		JOIN drip_subscriptions s ON s.id = m.subscription_id
		WHERE s.campaign_slug = $1
		  AND s.ended_at IS NULL AND s.unsubscribed_at IS NULL
		  AND m.sent_at IS NULL AND m.skipped_at IS NULL
		  AND m.send_at <= $2`
	args := []interface{}{campaignSlug, now}
	if after != nil {
		query += ` AND (m.send_at, m.step, m.id) > ($3, $4, $5)`
		args = append(args, after.SendAt, after.Step, after.ID)
	}
	query += fmt.Sprintf(`
		ORDER BY m.send_at ASC, m.step ASC, m.id ASC
		LIMIT %d`, limit)

	rows, err := st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMailings(rows)
}

func (st *Store) ClaimMailing(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error) {
	res, err := st.db.ExecContext(ctx, `
		UPDATE drip_mailings
		SET claimed_at = $2
		WHERE id = $1
		  AND sent_at IS NULL AND skipped_at IS NULL
		  AND (claimed_at IS NULL OR claimed_at <= $3)`,
		id, now, now.Add(-lease))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// EndIfComplete is a single guarded UPDATE, so the pending-count check and
// the end transition commit atomically.
func (st *Store) EndIfComplete(ctx context.Context, subscriptionID uuid.UUID, reason string, now time.Time) (bool, error) {
	res, err := st.db.ExecContext(ctx, `
		UPDATE drip_subscriptions
		SET ended_at = $2, ended_reason = $3, updated_at = $2
		WHERE id = $1
		  AND ended_at IS NULL AND unsubscribed_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM drip_mailings
			WHERE subscription_id = $1 AND sent_at IS NULL AND skipped_at IS NULL
		  )`,
		subscriptionID, now, reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*drip.Subscription, error) {
	var s drip.Subscription
	var userType, userID, endedReason, unsubReason sql.NullString
	var endedAt, unsubscribedAt, resubscribedAt sql.NullTime

	err := row.Scan(&s.ID, &s.CampaignSlug, &s.Subscriber.Type, &s.Subscriber.ID,
		&userType, &userID, &s.Token, &endedAt, &endedReason,
		&unsubscribedAt, &unsubReason, &resubscribedAt,
		&s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if userType.Valid {
		s.User = &drip.EntityRef{Type: userType.String, ID: userID.String}
	}
	s.EndedAt = timePtr(endedAt)
	s.EndedReason = endedReason.String
	s.UnsubscribedAt = timePtr(unsubscribedAt)
	s.UnsubscribeReason = unsubReason.String
	s.ResubscribedAt = timePtr(resubscribedAt)
	return &s, nil
}

func scanMailing(row rowScanner) (*drip.Mailing, error) {
	var m drip.Mailing
	var sentAt, skippedAt, claimedAt sql.NullTime

	err := row.Scan(&m.ID, &m.SubscriptionID, &m.Mailer, &m.Action, &m.Step,
		&m.SendAt, &sentAt, &skippedAt, &claimedAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.SentAt = timePtr(sentAt)
	m.SkippedAt = timePtr(skippedAt)
	m.ClaimedAt = timePtr(claimedAt)
	return &m, nil
}

func collectMailings(rows *sql.Rows) ([]*drip.Mailing, error) {
	var out []*drip.Mailing
	for rows.Next() {
		m, err := scanMailing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
