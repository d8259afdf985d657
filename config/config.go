package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env         string
	Port        string
	LogLevel    string
	DatabaseURL string
	JWTSecret   string
	CORSOrigins []string

	Mpesa MpesaConfig
	SMTP  SMTPConfig
}

type MpesaConfig struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	TransactionType string
	CallbackURL     string
	// shared secret expected in the callback's ?token= query parameter
	CallbackToken  string
	TokenTimeout   time.Duration
	RequestTimeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Sender   string
}

func (s SMTPConfig) Enabled() bool { return s.Host != "" && s.Sender != "" }

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "production")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	v.SetDefault("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline")
	v.SetDefault("MPESA_TOKEN_TIMEOUT", "15s")
	v.SetDefault("MPESA_REQUEST_TIMEOUT", "30s")
	v.SetDefault("SMTP_PORT", 465)

	dbURL := v.GetString("DATABASE_URL")
	if dbURL == "" {
		dbURL = v.GetString("DB_URL")
	}

	cfg := &Config{
		Env:         v.GetString("APP_ENV"),
		Port:        v.GetString("PORT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		DatabaseURL: dbURL,
		JWTSecret:   v.GetString("JWT_SECRET"),
		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		Mpesa: MpesaConfig{
			BaseURL:         strings.TrimRight(v.GetString("MPESA_BASE_URL"), "/"),
			ConsumerKey:     v.GetString("MPESA_CONSUMER_KEY"),
			ConsumerSecret:  v.GetString("MPESA_CONSUMER_SECRET"),
			ShortCode:       v.GetString("MPESA_SHORTCODE"),
			PassKey:         v.GetString("MPESA_PASSKEY"),
			TransactionType: v.GetString("MPESA_TRANSACTION_TYPE"),
			CallbackURL:     v.GetString("MPESA_CALLBACK_URL"),
			CallbackToken:   v.GetString("MPESA_CALLBACK_TOKEN"),
			TokenTimeout:    v.GetDuration("MPESA_TOKEN_TIMEOUT"),
			RequestTimeout:  v.GetDuration("MPESA_REQUEST_TIMEOUT"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			User:     v.GetString("SMTP_USER"),
			Password: v.GetString("SMTP_PASS"),
			Sender:   v.GetString("SMTP_SENDER"),
		},
	}
	return cfg, nil
}

// ValidateServe checks the settings the HTTP server cannot start without.
func (c *Config) ValidateServe() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	}
	if c.Mpesa.ShortCode == "" || c.Mpesa.PassKey == "" {
		errs = append(errs, errors.New("MPESA_SHORTCODE and MPESA_PASSKEY are required"))
	}
	if c.Mpesa.CallbackURL == "" {
		errs = append(errs, errors.New("MPESA_CALLBACK_URL is not set"))
	}
	return errors.Join(errs...)
}

func (c *Config) Development() bool { return c.Env == "development" }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
