package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	ermis "github.com/bitloops/ermis/sdk/golang"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and check credentials",
	Long:  "Display the current configuration and perform a live authorization against the Ermis gateway.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		resolved := ermis.NewConfig(cfg.Default)

		fmt.Println("Configuration:")
		fmt.Printf("  Application: %s\n", valueOrDefault(cfg.Default.ApplicationID, "(not set)"))
		if cfg.Default.PublicKey != "" {
			fmt.Printf("  Public Key:  %s\n", maskKey(cfg.Default.PublicKey))
		} else {
			fmt.Println("  Public Key:  (not set)")
		}
		fmt.Printf("  REST:        %s\n", resolved.BaseURL())
		fmt.Printf("  Stream:      %s\n", resolved.GatewayBaseURL())
		fmt.Printf("  Transport:   %s\n", valueOrDefault(cfg.Stream.Transport, string(ermis.TransportSSE)))

		if requireCredentials(cfg) != nil {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		gateway := ermis.NewGateway(resolved, &http.Client{Timeout: 10 * time.Second})
		start := time.Now()
		_, err = gateway.Authorize(ctx, uuid.NewString())
		switch {
		case err == nil:
			fmt.Printf("  Authorize:   ok (%s)\n", time.Since(start).Round(time.Millisecond))
		case errors.Is(err, ermis.ErrAuthorization):
			fmt.Printf("  Authorize:   rejected: %v\n", err)
		default:
			fmt.Printf("  Authorize:   failed: %v\n", err)
		}
		return nil
	},
}
