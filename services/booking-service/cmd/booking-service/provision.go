package main

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/slotbook/libs/config"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"github.com/spf13/cobra"
)

func provisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision <provider-id>",
		Short: "Seed the default weekly availability for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			providerID := strings.TrimSpace(args[0])
			logger := runtime.NewLogger(config.String("SERVICE_NAME", "booking-service"), config.String("LOG_LEVEL", "info"))

			databaseURL, err := config.RequiredString("DATABASE_URL")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.Open(ctx, databaseURL, db.Options{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			engine := booking.NewEngine(storage.NewBookingRepository(pool), nil, nil, nil, logger, booking.Options{
				DefaultTimezone: config.String("DEFAULT_TIMEZONE", ""),
			})
			created, err := engine.ProvisionDefaults(ctx, providerID)
			if err != nil {
				return fmt.Errorf("provision %s: %w", providerID, err)
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "default availability created for %s\n", providerID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already has availability rules\n", providerID)
			}
			return nil
		},
	}
}
