package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarkoPoloResearchLab/atelier/internal/credit"
	"github.com/MarkoPoloResearchLab/atelier/internal/httpapi"
	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

const (
	flagDatabaseURL    = "database-url"
	flagStore          = "store"
	flagLogLevel       = "log-level"
	flagDeductPolicy   = "deduct-policy"
	flagPaymentMode    = "payment-mode"
	flagListenAddr     = "listen-addr"
	flagGRPCListenAddr = "grpc-listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagRequestTimeout = "request-timeout"
	envPrefix          = "ATELIER"

	storeGorm = "gorm"
	storePGX  = "pgx"

	defaultDatabaseURL    = "sqlite://atelier.db"
	defaultGRPCListenAddr = "127.0.0.1:7000"
)

// runtimeConfig is the resolved configuration shared by every subcommand.
type runtimeConfig struct {
	DatabaseURL    string
	Store          string
	LogLevel       string
	DeductPolicy   ledger.DeductPolicy
	PaymentMode    string
	GRPCListenAddr string
	HTTP           httpapi.Config
}

func registerPersistentFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, defaultDatabaseURL, "database URL (postgres://, sqlite:// or a sqlite file path)")
	flags.String(flagStore, storeGorm, "store implementation: gorm or pgx (pgx requires postgres)")
	flags.String(flagLogLevel, "info", "log level (debug, info, warn, error)")
	flags.String(flagDeductPolicy, ledger.DeductPolicyPositiveBalance.String(), "deduct rule: positive-balance or cover-amount")
}

func registerServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String(flagListenAddr, ":8080", "HTTP listen address")
	flags.String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address (unauthenticated, keep it private)")
	flags.String(flagAllowedOrigins, "http://localhost:8000", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	flags.String(flagJWTIssuer, "tauth", "expected JWT issuer")
	flags.String(flagJWTCookieName, "app_session", "JWT cookie name")
	flags.Duration(flagRequestTimeout, 5*time.Second, "per-request ledger timeout")
	flags.String(flagPaymentMode, credit.PaymentModeRandom, "payment simulation: random, approve or decline")
}

// loadConfig layers flags over ATELIER_* environment variables.
func loadConfig(cmd *cobra.Command) (runtimeConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return runtimeConfig{}, err
	}

	policy, err := ledger.ParseDeductPolicy(v.GetString(flagDeductPolicy))
	if err != nil {
		return runtimeConfig{}, err
	}
	cfg := runtimeConfig{
		DatabaseURL:    strings.TrimSpace(v.GetString(flagDatabaseURL)),
		Store:          strings.ToLower(strings.TrimSpace(v.GetString(flagStore))),
		LogLevel:       v.GetString(flagLogLevel),
		DeductPolicy:   policy,
		PaymentMode:    v.GetString(flagPaymentMode),
		GRPCListenAddr: v.GetString(flagGRPCListenAddr),
		HTTP: httpapi.Config{
			ListenAddr:        v.GetString(flagListenAddr),
			AllowedOrigins:    httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
			SessionSigningKey: v.GetString(flagJWTSigningKey),
			SessionIssuer:     v.GetString(flagJWTIssuer),
			SessionCookieName: v.GetString(flagJWTCookieName),
			RequestTimeout:    v.GetDuration(flagRequestTimeout),
		},
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	switch cfg.Store {
	case "":
		cfg.Store = storeGorm
	case storeGorm, storePGX:
	default:
		return runtimeConfig{}, fmt.Errorf("unknown store %q", cfg.Store)
	}
	return cfg, nil
}
