/*
Package config handles configuration management for the rewards ledger.

PURPOSE:
  Loads configuration from environment variables (and an optional .env
  file) with Viper. All policy constants consumed by the subsystem are
  supplied externally: the ledger does not own business numbers.

VALUES:
  SIGNUP_BONUS_POINTS    Points credited on signup completion
  REFERRAL_BONUS_POINTS  Points credited to the referrer on completion
  ORDER_POINTS_RATE      Fraction of the order total credited as points
  MIN_REDEMPTION_POINTS  Smallest redeemable amount
  REFERRAL_CYCLE_DEPTH   Ancestor-walk depth for the referral cycle guard
  SERVER_PORT, DB_PATH, RABBITMQ_URL, EVENTS_EXCHANGE, AUDIT_SCHEDULE
*/
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service, loaded from environment
// variables.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	DBPath     string `mapstructure:"DB_PATH"`

	SignupBonusPoints   int64  `mapstructure:"SIGNUP_BONUS_POINTS"`
	ReferralBonusPoints int64  `mapstructure:"REFERRAL_BONUS_POINTS"`
	OrderPointsRate     string `mapstructure:"ORDER_POINTS_RATE"`
	MinRedemptionPoints int64  `mapstructure:"MIN_REDEMPTION_POINTS"`
	ReferralCycleDepth  int    `mapstructure:"REFERRAL_CYCLE_DEPTH"`

	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`

	AuditSchedule string `mapstructure:"AUDIT_SCHEDULE"`
}

// Load reads configuration from environment variables, with an optional
// .env file in path. Missing file is fine; invalid values are not.
func Load(path string) (Config, error) {
	v := viper.New()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DB_PATH", "rewards.db")
	v.SetDefault("SIGNUP_BONUS_POINTS", 100)
	v.SetDefault("REFERRAL_BONUS_POINTS", 500)
	v.SetDefault("ORDER_POINTS_RATE", "0.01")
	v.SetDefault("MIN_REDEMPTION_POINTS", 100)
	v.SetDefault("REFERRAL_CYCLE_DEPTH", 5)
	v.SetDefault("EVENTS_EXCHANGE", "rewards.events")
	v.SetDefault("AUDIT_SCHEDULE", "@hourly")

	for _, key := range []string{
		"SERVER_PORT", "DB_PATH",
		"SIGNUP_BONUS_POINTS", "REFERRAL_BONUS_POINTS", "ORDER_POINTS_RATE",
		"MIN_REDEMPTION_POINTS", "REFERRAL_CYCLE_DEPTH",
		"RABBITMQ_URL", "EVENTS_EXCHANGE", "AUDIT_SCHEDULE",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SignupBonusPoints < 0 || c.ReferralBonusPoints < 0 {
		return fmt.Errorf("bonus points must not be negative")
	}
	rate, err := decimal.NewFromString(c.OrderPointsRate)
	if err != nil {
		return fmt.Errorf("invalid ORDER_POINTS_RATE %q: %w", c.OrderPointsRate, err)
	}
	if rate.IsNegative() {
		return fmt.Errorf("ORDER_POINTS_RATE must not be negative")
	}
	if c.MinRedemptionPoints < 0 {
		return fmt.Errorf("MIN_REDEMPTION_POINTS must not be negative")
	}
	if c.ReferralCycleDepth < 1 {
		return fmt.Errorf("REFERRAL_CYCLE_DEPTH must be at least 1")
	}
	return nil
}

// OrderRate returns the parsed accrual rate. Load has already validated it.
func (c Config) OrderRate() decimal.Decimal {
	return decimal.RequireFromString(c.OrderPointsRate)
}
