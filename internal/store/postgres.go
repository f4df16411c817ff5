package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"hearsafe/api/internal/survey"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// --- users ---

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified, created_at, updated_at
		FROM users
		WHERE email=$1 AND deactivated_at IS NULL
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified, created_at, updated_at
		FROM users
		WHERE id=$1 AND deactivated_at IS NULL
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	role := user.Role
	if role == "" {
		role = "surveyor"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1
			AND verification_token <> ''
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// --- refresh sessions (Postgres fallback when Redis is unavailable) ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	if user.Role == "" {
		user.Role = "viewer"
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// --- surveys ---

func (s *PostgresStore) ListSurveys(ctx context.Context) ([]SurveyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference, site_name, client_name, status, surveyor, survey_date, created_by, updated_by, created_at, updated_at
		FROM surveys
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()

	items := make([]SurveyRecord, 0)
	for rows.Next() {
		var item SurveyRecord
		if err := rows.Scan(&item.ID, &item.Reference, &item.SiteName, &item.ClientName, &item.Status, &item.Surveyor, &item.SurveyDate, &item.CreatedBy, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate surveys: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSurveyRecord(ctx context.Context, surveyID string) (SurveyRecord, error) {
	var item SurveyRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, reference, site_name, client_name, status, surveyor, survey_date, created_by, updated_by, created_at, updated_at
		FROM surveys
		WHERE id=$1
	`, surveyID).Scan(&item.ID, &item.Reference, &item.SiteName, &item.ClientName, &item.Status, &item.Surveyor, &item.SurveyDate, &item.CreatedBy, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return SurveyRecord{}, err
	}
	return item, nil
}

// GetSurvey loads the full aggregate from the JSONB payload column.
func (s *PostgresStore) GetSurvey(ctx context.Context, surveyID string) (survey.Survey, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM surveys WHERE id=$1`, surveyID).Scan(&payload)
	if err != nil {
		return survey.Survey{}, err
	}
	var agg survey.Survey
	if err := json.Unmarshal(payload, &agg); err != nil {
		return survey.Survey{}, fmt.Errorf("decode survey %s: %w", surveyID, err)
	}
	return agg, nil
}

func (s *PostgresStore) InsertSurvey(ctx context.Context, agg survey.Survey) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode survey: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO surveys (id, reference, site_name, client_name, status, surveyor, survey_date, created_by, updated_by, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, agg.ID, agg.Reference, agg.SiteName, agg.ClientName, agg.Status, agg.Surveyor, agg.SurveyDate, agg.CreatedBy, payload)
	if err != nil {
		return fmt.Errorf("insert survey: %w", err)
	}
	return nil
}

// UpdateSurvey persists the aggregate and keeps the listing columns in
// sync with its metadata.
func (s *PostgresStore) UpdateSurvey(ctx context.Context, agg survey.Survey, updatedBy string) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode survey: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE surveys
		SET reference=$2, site_name=$3, client_name=$4, status=$5, surveyor=$6, survey_date=$7, updated_by=$8, payload=$9, updated_at=NOW()
		WHERE id=$1
	`, agg.ID, agg.Reference, agg.SiteName, agg.ClientName, agg.Status, agg.Surveyor, agg.SurveyDate, updatedBy, payload)
	if err != nil {
		return fmt.Errorf("update survey: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update survey rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteSurvey(ctx context.Context, surveyID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM surveys WHERE id=$1`, surveyID)
	if err != nil {
		return fmt.Errorf("delete survey: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete survey rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SummaryCounts(ctx context.Context) (total int, drafts int, completed int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status='DRAFT'),
			COUNT(*) FILTER (WHERE status='COMPLETED')
		FROM surveys
	`).Scan(&total, &drafts, &completed)
	if err != nil {
		err = fmt.Errorf("summary counts: %w", err)
	}
	return
}

// SearchSurveys is the Postgres full-text fallback used when Meilisearch
// is unreachable.
func (s *PostgresStore) SearchSurveys(ctx context.Context, query string, limit int) ([]SurveyRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference, site_name, client_name, status, surveyor, survey_date, created_by, updated_by, created_at, updated_at
		FROM surveys
		WHERE to_tsvector('english', site_name || ' ' || client_name || ' ' || reference || ' ' || surveyor)
			@@ plainto_tsquery('english', $1)
		ORDER BY updated_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search surveys: %w", err)
	}
	defer rows.Close()

	items := make([]SurveyRecord, 0)
	for rows.Next() {
		var item SurveyRecord
		if err := rows.Scan(&item.ID, &item.Reference, &item.SiteName, &item.ClientName, &item.Status, &item.Surveyor, &item.SurveyDate, &item.CreatedBy, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return items, nil
}

// --- exports ---

func (s *PostgresStore) InsertExport(ctx context.Context, record ExportRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO survey_exports (id, survey_id, format, object_key, size_bytes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.ID, record.SurveyID, record.Format, record.ObjectKey, record.Size, record.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert export: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListExports(ctx context.Context, surveyID string) ([]ExportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, survey_id, format, object_key, size_bytes, created_by, created_at
		FROM survey_exports
		WHERE survey_id=$1
		ORDER BY created_at DESC
	`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	items := make([]ExportRecord, 0)
	for rows.Next() {
		var item ExportRecord
		if err := rows.Scan(&item.ID, &item.SurveyID, &item.Format, &item.ObjectKey, &item.Size, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exports: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
