package main

import (
	"fmt"
	"os"

	rosterly "github.com/rosterly/rosterly-go"
)

// clientOptions builds client options from the stored configuration.
func clientOptions(cfg *Config) []rosterly.ClientOption {
	var opts []rosterly.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, rosterly.WithBaseURL(cfg.Default.BaseURL))
	} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
		opts = append(opts, rosterly.WithEnvironment(rosterly.Environment(cfg.Default.Environment)))
	}
	return opts
}

// getClient creates a Rosterly client authenticated with the stored token.
func getClient() *rosterly.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.AccessToken == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'rosterly login <email>' first.")
		os.Exit(1)
	}
	return rosterly.NewClient(cfg.Auth.AccessToken, clientOptions(cfg)...)
}

// getAnonClient creates an unauthenticated Rosterly client (for login).
func getAnonClient() *rosterly.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return rosterly.NewClient("", clientOptions(cfg)...)
}

// maskToken shows the first 12 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 16 {
		if len(token) <= 8 {
			return "****"
		}
		return token[:4] + "..." + token[len(token)-4:]
	}
	return token[:12] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
