package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config is the static configuration read once at startup.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Argon2   Argon2Config
	Rewards  Rewards
	Limits   Limits
	Payment  PaymentConfig
	Storage  StorageConfig
	Payout   PayoutConfig
	Jobs     JobsConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
	PublicBaseURL  string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type JWTConfig struct {
	SecretKey string
	Expiry    time.Duration
}

type Argon2Config struct {
	Time       uint32
	Memory     uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength int
}

// Rewards are the fixed bonus amounts, in minor currency units.
type Rewards struct {
	SignupBonus      int64
	ReferralBonus    int64
	VIPReferralBonus int64
	VIPSignupBonus   int64
	ReferrerVIPBonus int64
	VIPPrice         int64
}

// Limits bound throttled actions and request amounts.
type Limits struct {
	TaskCooldown       time.Duration
	TaskHourlyQuota    int
	WithdrawalsEnabled bool
	WithdrawalMin      int64
	WithdrawalMax      int64
	WithdrawalsPerDay  int
	WithdrawalCooldown time.Duration
	LoanMin            int64
	LoanMax            int64
}

type PaymentConfig struct {
	SecretKey string
	BaseURL   string
	Currency  string
	Timeout   time.Duration
}

type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Endpoint        string
}

// Enabled reports whether ledger exports have a bucket to write to.
func (s StorageConfig) Enabled() bool { return s.Bucket != "" && s.AccessKeyID != "" }

type PayoutConfig struct {
	DebtorName string
	DebtorBIC  string
	Currency   string
	QueueKey   string
}

type JobsConfig struct {
	ReconcileInterval time.Duration
	PayoutInterval    time.Duration
	SettingsInterval  time.Duration
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})
	viper.SetDefault("server.public_base_url", "http://localhost:5173")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "earnhub")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.cache_ttl", "30m")

	viper.SetDefault("jwt.expiry_hours", 24)

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	viper.SetDefault("rewards.signup_bonus", 1000)
	viper.SetDefault("rewards.referral_bonus", 500)
	viper.SetDefault("rewards.vip_referral_bonus", 800)
	viper.SetDefault("rewards.vip_signup_bonus", 1000)
	viper.SetDefault("rewards.referrer_vip_bonus", 2000)
	viper.SetDefault("rewards.vip_price", 5000)

	viper.SetDefault("limits.task_cooldown", 3*time.Second)
	viper.SetDefault("limits.task_hourly_quota", 50)
	viper.SetDefault("limits.withdrawals_enabled", true)
	viper.SetDefault("limits.withdrawal_min", 1000)
	viper.SetDefault("limits.withdrawal_max", 100000)
	viper.SetDefault("limits.withdrawals_per_day", 3)
	viper.SetDefault("limits.withdrawal_cooldown", 8*time.Hour)
	viper.SetDefault("limits.loan_min", 1000)
	viper.SetDefault("limits.loan_max", 100000)

	viper.SetDefault("payment.base_url", "https://api.flutterwave.com/v3")
	viper.SetDefault("payment.currency", "NGN")
	viper.SetDefault("payment.timeout", 15*time.Second)

	viper.SetDefault("payout.debtor_name", "EarnHub Payouts")
	viper.SetDefault("payout.debtor_bic", "EARNNGLA")
	viper.SetDefault("payout.currency", "NGN")
	viper.SetDefault("payout.queue_key", "payout_queue")

	viper.SetDefault("jobs.reconcile_interval", 15*time.Minute)
	viper.SetDefault("jobs.payout_interval", 30*time.Second)
	viper.SetDefault("jobs.settings_interval", 10*time.Second)
}

func bindEnv() {
	bindings := map[string]string{
		"server.port":            "PORT",
		"server.allowed_origins": "ALLOWED_ORIGINS",
		"server.public_base_url": "PUBLIC_BASE_URL",

		"database.host":      "DATABASE_HOST",
		"database.port":      "DATABASE_PORT",
		"database.user":      "DATABASE_USER",
		"database.password":  "DATABASE_PASSWORD",
		"database.name":      "DATABASE_NAME",
		"database.ssl_mode":  "DATABASE_SSL_MODE",
		"redis.host":         "REDIS_HOST",
		"redis.port":         "REDIS_PORT",
		"redis.password":     "REDIS_PASSWORD",
		"redis.db":           "REDIS_DB",
		"redis.cache_ttl":    "REDIS_CACHE_TTL",
		"jwt.secret_key":     "JWT_SECRET_KEY",
		"jwt.expiry_hours":   "JWT_EXPIRY_HOURS",
		"argon2.time":        "ARGON2_TIME",
		"argon2.memory":      "ARGON2_MEMORY",
		"argon2.threads":     "ARGON2_THREADS",
		"argon2.key_length":  "ARGON2_KEY_LENGTH",
		"argon2.salt_length": "ARGON2_SALT_LENGTH",

		"rewards.signup_bonus":       "SIGNUP_BONUS",
		"rewards.referral_bonus":     "REFERRAL_BONUS",
		"rewards.vip_referral_bonus": "VIP_REFERRAL_BONUS",
		"rewards.vip_signup_bonus":   "VIP_SIGNUP_BONUS",
		"rewards.referrer_vip_bonus": "REFERRER_VIP_BONUS",
		"rewards.vip_price":          "VIP_PRICE",

		"limits.task_cooldown":       "TASK_COOLDOWN",
		"limits.task_hourly_quota":   "TASK_HOURLY_QUOTA",
		"limits.withdrawals_enabled": "WITHDRAWALS_ENABLED",
		"limits.withdrawal_min":      "WITHDRAWAL_MIN",
		"limits.withdrawal_max":      "WITHDRAWAL_MAX",
		"limits.withdrawals_per_day": "WITHDRAWALS_PER_DAY",
		"limits.withdrawal_cooldown": "WITHDRAWAL_COOLDOWN",
		"limits.loan_min":            "LOAN_MIN",
		"limits.loan_max":            "LOAN_MAX",

		"payment.secret_key": "FLUTTERWAVE_SECRET_KEY",
		"payment.base_url":   "FLUTTERWAVE_BASE_URL",
		"payment.currency":   "PAYMENT_CURRENCY",

		"storage.account_id":        "CLOUDFLARE_ACCOUNT_ID",
		"storage.access_key_id":     "R2_ACCESS_KEY_ID",
		"storage.access_key_secret": "R2_ACCESS_KEY_SECRET",
		"storage.bucket":            "R2_BUCKET_NAME",
		"storage.endpoint":          "R2_ENDPOINT",

		"payout.debtor_name": "PAYOUT_DEBTOR_NAME",
		"payout.debtor_bic":  "PAYOUT_DEBTOR_BIC",

		"jobs.reconcile_interval": "RECONCILE_INTERVAL",
		"jobs.payout_interval":    "PAYOUT_INTERVAL",
		"jobs.settings_interval":  "SETTINGS_RELOAD_INTERVAL",
	}
	for key, env := range bindings {
		viper.BindEnv(key, env)
	}
}

// Load reads .env and the environment into a validated Config.
func Load() (*Config, error) {
	setDefaults()
	bindEnv()

	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		log.Printf("[CONFIG] Config file not found, using environment and defaults: %v", err)
	}

	cfg := FromViper()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper snapshots the current viper state without reading files.
func FromViper() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           viper.GetString("server.port"),
			AllowedOrigins: viper.GetStringSlice("server.allowed_origins"),
			PublicBaseURL:  viper.GetString("server.public_base_url"),
		},
		Database: DatabaseConfig{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetString("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			Name:            viper.GetString("database.name"),
			SSLMode:         viper.GetString("database.ssl_mode"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			CacheTTL: viper.GetDuration("redis.cache_ttl"),
		},
		JWT: JWTConfig{
			SecretKey: viper.GetString("jwt.secret_key"),
			Expiry:    time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour,
		},
		Argon2: Argon2Config{
			Time:       viper.GetUint32("argon2.time"),
			Memory:     viper.GetUint32("argon2.memory"),
			Threads:    uint8(viper.GetUint("argon2.threads")),
			KeyLength:  viper.GetUint32("argon2.key_length"),
			SaltLength: viper.GetInt("argon2.salt_length"),
		},
		Rewards: Rewards{
			SignupBonus:      viper.GetInt64("rewards.signup_bonus"),
			ReferralBonus:    viper.GetInt64("rewards.referral_bonus"),
			VIPReferralBonus: viper.GetInt64("rewards.vip_referral_bonus"),
			VIPSignupBonus:   viper.GetInt64("rewards.vip_signup_bonus"),
			ReferrerVIPBonus: viper.GetInt64("rewards.referrer_vip_bonus"),
			VIPPrice:         viper.GetInt64("rewards.vip_price"),
		},
		Limits: Limits{
			TaskCooldown:       viper.GetDuration("limits.task_cooldown"),
			TaskHourlyQuota:    viper.GetInt("limits.task_hourly_quota"),
			WithdrawalsEnabled: viper.GetBool("limits.withdrawals_enabled"),
			WithdrawalMin:      viper.GetInt64("limits.withdrawal_min"),
			WithdrawalMax:      viper.GetInt64("limits.withdrawal_max"),
			WithdrawalsPerDay:  viper.GetInt("limits.withdrawals_per_day"),
			WithdrawalCooldown: viper.GetDuration("limits.withdrawal_cooldown"),
			LoanMin:            viper.GetInt64("limits.loan_min"),
			LoanMax:            viper.GetInt64("limits.loan_max"),
		},
		Payment: PaymentConfig{
			SecretKey: viper.GetString("payment.secret_key"),
			BaseURL:   viper.GetString("payment.base_url"),
			Currency:  viper.GetString("payment.currency"),
			Timeout:   viper.GetDuration("payment.timeout"),
		},
		Storage: StorageConfig{
			AccountID:       viper.GetString("storage.account_id"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			AccessKeySecret: viper.GetString("storage.access_key_secret"),
			Bucket:          viper.GetString("storage.bucket"),
			Endpoint:        viper.GetString("storage.endpoint"),
		},
		Payout: PayoutConfig{
			DebtorName: viper.GetString("payout.debtor_name"),
			DebtorBIC:  viper.GetString("payout.debtor_bic"),
			Currency:   viper.GetString("payout.currency"),
			QueueKey:   viper.GetString("payout.queue_key"),
		},
		Jobs: JobsConfig{
			ReconcileInterval: viper.GetDuration("jobs.reconcile_interval"),
			PayoutInterval:    viper.GetDuration("jobs.payout_interval"),
			SettingsInterval:  viper.GetDuration("jobs.settings_interval"),
		},
	}
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secret_key is required"))
	}
	if c.JWT.Expiry <= 0 {
		errs = append(errs, errors.New("jwt.expiry_hours must be positive"))
	}
	if err := c.Rewards.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Limits.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Jobs.ReconcileInterval <= 0 || c.Jobs.PayoutInterval <= 0 {
		errs = append(errs, errors.New("job intervals must be positive"))
	}
	return errors.Join(errs...)
}

func (r Rewards) Validate() error {
	amounts := map[string]int64{
		"signup_bonus":       r.SignupBonus,
		"referral_bonus":     r.ReferralBonus,
		"vip_referral_bonus": r.VIPReferralBonus,
		"vip_signup_bonus":   r.VIPSignupBonus,
		"referrer_vip_bonus": r.ReferrerVIPBonus,
		"vip_price":          r.VIPPrice,
	}
	for name, v := range amounts {
		if v < 0 {
			return fmt.Errorf("rewards.%s must not be negative", name)
		}
	}
	return nil
}

func (l Limits) Validate() error {
	switch {
	case l.TaskCooldown < 0:
		return errors.New("limits.task_cooldown must not be negative")
	case l.TaskHourlyQuota <= 0:
		return errors.New("limits.task_hourly_quota must be positive")
	case l.WithdrawalMin <= 0 || l.WithdrawalMin > l.WithdrawalMax:
		return fmt.Errorf("limits.withdrawal_min (%d) must be positive and <= withdrawal_max (%d)", l.WithdrawalMin, l.WithdrawalMax)
	case l.WithdrawalsPerDay <= 0:
		return errors.New("limits.withdrawals_per_day must be positive")
	case l.WithdrawalCooldown < 0:
		return errors.New("limits.withdrawal_cooldown must not be negative")
	case l.LoanMin <= 0 || l.LoanMin > l.LoanMax:
		return fmt.Errorf("limits.loan_min (%d) must be positive and <= loan_max (%d)", l.LoanMin, l.LoanMax)
	}
	return nil
}
