package reader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Well-known configuration keys.
const (
	// SettingRetryInterval is the base reconnect delay in whole seconds.
	SettingRetryInterval = "connectionRetriesIntervalSeconds"

	// SettingUseEffectiveIP selects whether IPAddressEffective overrides
	// IPAddress when dialling. "1" enables it.
	SettingUseEffectiveIP = "use_ip_address_effective"
)

// Settings is the key/value configuration store shared by all instances.
type Settings interface {
	// GetValue returns the value for name.
	// Returns ErrSettingNotFound if the key is absent.
	GetValue(ctx context.Context, name string) (string, error)

	// SetValue creates or replaces the value for name.
	SetValue(ctx context.Context, name, value string) error
}

// SettingsStore implements Settings on the configuration table.
type SettingsStore struct {
	db *sql.DB
}

// NewSettingsStore creates a SQLite-backed settings store.
func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// GetValue returns the value for name.
func (s *SettingsStore) GetValue(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM configuration WHERE name = ?", name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("querying setting %q: %w", name, err)
	}
	return value, nil
}

// SetValue upserts the value for name.
func (s *SettingsStore) SetValue(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO configuration (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, value,
	)
	if err != nil {
		return fmt.Errorf("writing setting %q: %w", name, err)
	}
	return nil
}

// PositiveInt reads name as a positive integer. Missing, unparseable and
// non-positive values yield def; only storage failures are returned.
func PositiveInt(ctx context.Context, s Settings, name string, def int) (int, error) {
	raw, err := s.GetValue(ctx, name)
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return def, nil
		}
		return def, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return def, nil //nolint:nilerr // bad values fall back to the default
	}
	return v, nil
}

// Flag reads name as a "1"/"0" flag. Anything other than "1" is false.
func Flag(ctx context.Context, s Settings, name string) (bool, error) {
	raw, err := s.GetValue(ctx, name)
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(raw) == "1", nil
}
