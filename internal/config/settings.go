package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Runtime is the subset of configuration admins may change while the
// service is running.
type Runtime struct {
	Rewards Rewards
	Limits  Limits
}

type settingKey struct {
	apply  func(rt *Runtime, value string) error
	format func(rt Runtime) string
}

func intSetting(field func(rt *Runtime) *int64) settingKey {
	return settingKey{
		apply: func(rt *Runtime, value string) error {
			v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return err
			}
			*field(rt) = v
			return nil
		},
		format: func(rt Runtime) string { return strconv.FormatInt(*field(&rt), 10) },
	}
}

func countSetting(field func(rt *Runtime) *int) settingKey {
	return settingKey{
		apply: func(rt *Runtime, value string) error {
			v, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return err
			}
			*field(rt) = v
			return nil
		},
		format: func(rt Runtime) string { return strconv.Itoa(*field(&rt)) },
	}
}

// durationSetting accepts Go duration strings ("8h", "3s") or a bare
// number of seconds.
func durationSetting(field func(rt *Runtime) *time.Duration) settingKey {
	return settingKey{
		apply: func(rt *Runtime, value string) error {
			value = strings.TrimSpace(value)
			if secs, err := strconv.Atoi(value); err == nil {
				*field(rt) = time.Duration(secs) * time.Second
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*field(rt) = d
			return nil
		},
		format: func(rt Runtime) string { return field(&rt).String() },
	}
}

// settingKeys is the closed set of keys accepted in admin_settings.
var settingKeys = map[string]settingKey{
	// Turns user withdrawal requests on or off.
	"withdrawals_enabled": {
		apply: func(rt *Runtime, value string) error {
			v, err := parseBool(value)
			if err != nil {
				return err
			}
			rt.Limits.WithdrawalsEnabled = v
			return nil
		},
		format: func(rt Runtime) string { return strconv.FormatBool(rt.Limits.WithdrawalsEnabled) },
	},
	"withdrawal_min":      intSetting(func(rt *Runtime) *int64 { return &rt.Limits.WithdrawalMin }),
	"withdrawal_max":      intSetting(func(rt *Runtime) *int64 { return &rt.Limits.WithdrawalMax }),
	"withdrawals_per_day": countSetting(func(rt *Runtime) *int { return &rt.Limits.WithdrawalsPerDay }),
	"withdrawal_cooldown": durationSetting(func(rt *Runtime) *time.Duration { return &rt.Limits.WithdrawalCooldown }),
	"loan_min":            intSetting(func(rt *Runtime) *int64 { return &rt.Limits.LoanMin }),
	"loan_max":            intSetting(func(rt *Runtime) *int64 { return &rt.Limits.LoanMax }),
	"task_cooldown":       durationSetting(func(rt *Runtime) *time.Duration { return &rt.Limits.TaskCooldown }),
	"task_hourly_quota":   countSetting(func(rt *Runtime) *int { return &rt.Limits.TaskHourlyQuota }),
	"signup_bonus":        intSetting(func(rt *Runtime) *int64 { return &rt.Rewards.SignupBonus }),
	"referral_bonus":      intSetting(func(rt *Runtime) *int64 { return &rt.Rewards.ReferralBonus }),
	"vip_referral_bonus":  intSetting(func(rt *Runtime) *int64 { return &rt.Rewards.VIPReferralBonus }),
	"vip_signup_bonus":    intSetting(func(rt *Runtime) *int64 { return &rt.Rewards.VIPSignupBonus }),
	"referrer_vip_bonus":  intSetting(func(rt *Runtime) *int64 { return &rt.Rewards.ReferrerVIPBonus }),
	"vip_price":           intSetting(func(rt *Runtime) *int64 { return &rt.Rewards.VIPPrice }),
}

// SettingKeys lists the recognised admin setting keys in sorted order.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingKeys))
	for k := range settingKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Settings caches the runtime configuration. Callers always receive a copy.
// base is the static configuration the stored rows are applied to.
type Settings struct {
	mu      sync.RWMutex
	base    Runtime
	current Runtime
}

func NewSettings(cfg *Config) *Settings {
	rt := Runtime{Rewards: cfg.Rewards, Limits: cfg.Limits}
	return &Settings{base: rt, current: rt}
}

func (s *Settings) Current() Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Values renders the current runtime configuration keyed by setting name.
func (s *Settings) Values() map[string]string {
	rt := s.Current()
	out := make(map[string]string, len(settingKeys))
	for k, def := range settingKeys {
		out[k] = def.format(rt)
	}
	return out
}

// ErrInvalidSetting marks a rejected key or value in a settings batch.
var ErrInvalidSetting = errors.New("invalid setting")

func applyAll(base Runtime, updates map[string]string) (Runtime, error) {
	next := base
	for key, value := range updates {
		def, ok := settingKeys[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			return base, fmt.Errorf("%w: unknown setting %q", ErrInvalidSetting, key)
		}
		if err := def.apply(&next, value); err != nil {
			return base, fmt.Errorf("%w: setting %q: invalid value %q: %v", ErrInvalidSetting, key, value, err)
		}
	}
	if err := next.Rewards.Validate(); err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalidSetting, err)
	}
	if err := next.Limits.Validate(); err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalidSetting, err)
	}
	return next, nil
}

// Load overlays every stored admin setting on the static defaults. It is
// called at startup and periodically, so changes made through another
// instance take effect here too. Reports whether the snapshot changed.
func (s *Settings) Load(ctx context.Context, db *sql.DB) (bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM admin_settings`)
	if err != nil {
		return false, fmt.Errorf("failed to load admin settings: %w", err)
	}
	defer rows.Close()

	updates := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return false, fmt.Errorf("failed to scan admin setting: %w", err)
		}
		updates[key] = value
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := applyAll(s.base, updates)
	if err != nil {
		return false, err
	}
	changed := next != s.current
	s.current = next
	return changed, nil
}

// Update validates the whole batch before persisting any of it.
func (s *Settings) Update(ctx context.Context, db *sql.DB, updates map[string]string) (Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := applyAll(s.current, updates)
	if err != nil {
		return s.current, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return s.current, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for key, value := range updates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO admin_settings (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value))
		if err != nil {
			return s.current, fmt.Errorf("failed to save setting %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.current, fmt.Errorf("failed to commit settings: %w", err)
	}

	s.current = next
	return next, nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, strconv.ErrSyntax
	}
}
