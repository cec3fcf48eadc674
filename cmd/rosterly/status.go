package main

import (
	"context"
	"fmt"
	"time"

	rosterly "github.com/rosterly/rosterly-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, check if the access token is expired, and fetch live account info.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Print config summary.
		fmt.Println("Configuration:")
		fmt.Printf("  Environment: %s\n", valueOrDefault(cfg.Default.Environment, "(not set)"))
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL:    %s\n", cfg.Default.BaseURL)
		}
		if cfg.Default.StorePath != "" {
			fmt.Printf("  Store:       %s\n", cfg.Default.StorePath)
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Email != "" {
			fmt.Printf("  Email:   %s\n", cfg.Auth.Email)
			fmt.Printf("  User ID: %s\n", cfg.Auth.UserID)
		} else {
			fmt.Println("  Email:   (not logged in)")
		}

		// Check token expiry.
		tokenStatus := "none"
		if cfg.Auth.AccessToken != "" {
			expiry, err := rosterly.TokenExpiry(cfg.Auth.AccessToken)
			switch {
			case err != nil:
				tokenStatus = fmt.Sprintf("%s (unparseable expiry)", maskToken(cfg.Auth.AccessToken))
			case time.Now().Before(expiry):
				tokenStatus = fmt.Sprintf("valid (expires %s)", expiry.Format(time.RFC3339))
			default:
				tokenStatus = fmt.Sprintf("EXPIRED (expired %s)", expiry.Format(time.RFC3339))
			}
		}
		fmt.Printf("  Token:   %s\n", tokenStatus)

		// If logged in, try live status via me().
		if cfg.Auth.AccessToken != "" {
			fmt.Println()
			fmt.Println("Live status:")

			client := rosterly.NewClient(cfg.Auth.AccessToken, clientOptions(cfg)...)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			result, err := client.Auth.Me(ctx)
			if err != nil {
				fmt.Printf("  Error fetching account info: %v\n", err)
				return nil
			}
			if !result.OK {
				if result.Error != nil {
					fmt.Printf("  API error: %s: %s\n", result.Error.Code, result.Error.Message)
				} else {
					fmt.Println("  API returned an error (no details)")
				}
				return nil
			}

			var me rosterly.User
			if err := result.Decode(&me); err != nil {
				fmt.Printf("  Error decoding response: %v\n", err)
				return nil
			}

			fmt.Printf("  Name:  %s %s\n", me.FirstName, me.LastName)
			fmt.Printf("  Email: %s\n", me.Email)
			if me.IsAdmin {
				fmt.Println("  Role:  admin")
			}
		}

		return nil
	},
}
