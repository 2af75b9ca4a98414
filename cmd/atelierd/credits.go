package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/atelier/internal/account"
	"github.com/MarkoPoloResearchLab/atelier/internal/observability"
	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

func newCreditsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Adjust account credits by username",
	}
	cmd.AddCommand(
		newAdjustCommand("topup", "Top up credits for a user", 1),
		newAdjustCommand("deduct", "Deduct credits from a user", -1),
	)
	return cmd
}

func newAdjustCommand(use string, short string, sign int64) *cobra.Command {
	return &cobra.Command{
		Use:   use + " USERNAME AMOUNT",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := observability.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runAdjust(cmd.Context(), cfg, logger, cmd.OutOrStdout(), args[0], args[1], sign)
		},
	}
}

func runAdjust(ctx context.Context, cfg runtimeConfig, logger *zap.Logger, out io.Writer, rawUsername string, rawAmount string, sign int64) error {
	amount, err := strconv.ParseInt(strings.TrimSpace(rawAmount), 10, 64)
	if err != nil || amount <= 0 {
		fmt.Fprintln(out, "Error: Amount must be a positive number")
		return errReported
	}
	username, err := ledger.NewUsername(rawUsername)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return errReported
	}

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	adjustment, err := app.accounts.Adjust(ctx, username, sign*amount)
	var insufficient account.InsufficientCreditsError
	switch {
	case err == nil:
		fmt.Fprintln(out, adjustment.Message())
		return nil
	case errors.As(err, &insufficient):
		fmt.Fprintln(out, insufficient.Message())
		return errReported
	case errors.Is(err, ledger.ErrUnknownAccount):
		fmt.Fprintf(out, "Error: User '%s' not found\n", username)
		return errReported
	default:
		fmt.Fprintf(out, "Error: %v\n", err)
		return errReported
	}
}
