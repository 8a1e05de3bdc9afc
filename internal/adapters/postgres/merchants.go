package postgres

import (
	"context"

	"github.com/lumipay/reconciliation-service/internal/domain"
)

// MerchantRepo implements ports.MerchantRepository
type MerchantRepo struct {
	db *DB
}

const merchantColumns = `
	id, code, name, callback_url, signing_key, retry_count,
	timeout_seconds, is_active, created_at, updated_at`

// GetByID returns a merchant profile by id
func (r *MerchantRepo) GetByID(ctx context.Context, id string) (*domain.MerchantProfile, error) {
	return r.getBy(ctx, "id", id)
}

// GetByCode returns a merchant profile by its unique code
func (r *MerchantRepo) GetByCode(ctx context.Context, code string) (*domain.MerchantProfile, error) {
	return r.getBy(ctx, "code", code)
}

func (r *MerchantRepo) getBy(ctx context.Context, column, value string) (*domain.MerchantProfile, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+merchantColumns+`
		FROM merchant_profiles
		WHERE `+column+` = $1`,
		value,
	)

	var merchant domain.MerchantProfile
	err := row.Scan(
		&merchant.ID,
		&merchant.Code,
		&merchant.Name,
		&merchant.CallbackURL,
		&merchant.SigningKey,
		&merchant.RetryCount,
		&merchant.TimeoutSeconds,
		&merchant.IsActive,
		&merchant.CreatedAt,
		&merchant.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrMerchantNotFound.WithDetail(column, value)
		}
		return nil, domain.WrapError(domain.ErrorCodeStorageError, "get merchant profile", err)
	}
	return &merchant, nil
}

// Upsert creates or replaces a merchant profile, keyed by code
func (r *MerchantRepo) Upsert(ctx context.Context, profile *domain.MerchantProfile) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO merchant_profiles
			(id, code, name, callback_url, signing_key, retry_count,
			 timeout_seconds, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			callback_url = EXCLUDED.callback_url,
			signing_key = EXCLUDED.signing_key,
			retry_count = EXCLUDED.retry_count,
			timeout_seconds = EXCLUDED.timeout_seconds,
			is_active = EXCLUDED.is_active,
			updated_at = now()`,
		profile.ID,
		profile.Code,
		profile.Name,
		profile.CallbackURL,
		profile.SigningKey,
		profile.RetryCount,
		profile.TimeoutSeconds,
		profile.IsActive,
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "upsert merchant profile", err)
	}
	return nil
}

// ConfigRepo implements ports.ConfigStore over the system_config table
type ConfigRepo struct {
	db *DB
}

// GetValue returns a config value and whether it was present
func (r *ConfigRepo) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.pool.QueryRow(ctx,
		`SELECT value FROM system_config WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, domain.WrapError(domain.ErrorCodeStorageError, "get system config", err)
	}
	return value, true, nil
}

// SetValue stores a config value
func (r *ConfigRepo) SetValue(ctx context.Context, key, value string) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO system_config (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeStorageError, "set system config", err)
	}
	return nil
}
