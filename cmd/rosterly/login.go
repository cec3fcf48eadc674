package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	rosterly "github.com/rosterly/rosterly-go"
	"github.com/spf13/cobra"
)

var loginPassword string

func init() {
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prompted if not given)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and store tokens in ~/.rosterly/config.toml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		password := loginPassword
		if password == "" {
			fmt.Print("Password: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("cannot read password: %w", err)
			}
			password = strings.TrimSpace(line)
		}
		if password == "" {
			return fmt.Errorf("password is required")
		}

		client := getAnonClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		login, err := client.Auth.Login(ctx, &rosterly.LoginOptions{
			Email:    email,
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth.AccessToken = login.AccessToken
		cfg.Auth.RefreshToken = login.RefreshToken
		cfg.Auth.Email = email
		if login.User != nil {
			cfg.Auth.UserID = fmt.Sprintf("%d", login.User.ID)
		}
		if cfg.Default.Environment == "" {
			cfg.Default.Environment = "production"
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Login successful!")
		if login.User != nil {
			fmt.Printf("  User:  %s %s\n", login.User.FirstName, login.User.LastName)
			fmt.Printf("  Email: %s\n", login.User.Email)
		}
		if expiry, err := rosterly.TokenExpiry(login.AccessToken); err == nil {
			fmt.Printf("  Token expires: %s\n", expiry.Format(time.RFC3339))
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Invalidate the session and clear stored tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Auth.AccessToken != "" {
			client := rosterly.NewClient(cfg.Auth.AccessToken, clientOptions(cfg)...)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := client.Auth.Logout(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: server logout failed: %v\n", err)
			}
		}

		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Logged out.")
		return nil
	},
}
