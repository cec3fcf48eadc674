package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	rosterly "github.com/rosterly/rosterly-go"
	"github.com/spf13/cobra"
)

var (
	watchRooms []string
	watchJSON  bool
)

func init() {
	watchCmd.Flags().StringSliceVar(&watchRooms, "room", nil, "Room to join (repeatable, e.g. department:5)")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print raw event payloads")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail live schedule events",
	Long:  "Connect to the real-time gateway and print schedule events as they arrive.\nPress Ctrl+C to disconnect.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Auth.AccessToken == "" {
			return fmt.Errorf("not logged in; run 'rosterly login <email>' first")
		}

		client := rosterly.NewClient(cfg.Auth.AccessToken, clientOptions(cfg)...)

		rt := client.Realtime.Connect(&rosterly.RealtimeConfig{
			Token:         cfg.Auth.AccessToken,
			AutoReconnect: true,
		})

		rt.OnConnected(func(connectionID string) {
			fmt.Printf("-- connected (%s)\n", connectionID)
		})
		rt.OnDisconnected(func(code int, reason string) {
			fmt.Printf("-- disconnected (code=%d reason=%q)\n", code, reason)
		})
		rt.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("-- reconnecting (attempt=%d in %s)\n", attempt, delay)
		})

		rt.On(rosterly.EventMessage, func(eventType string, data json.RawMessage) {
			if watchJSON {
				fmt.Println(string(data))
				return
			}
			fmt.Printf("%s  %s  %s\n", time.Now().Format("15:04:05"), eventType, string(data))
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := rt.Dial(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer rt.Disconnect()

		for _, room := range watchRooms {
			rt.JoinRoom(room)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("-- closing")
		return nil
	},
}
