package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rosterly "github.com/rosterly/rosterly-go"
	"github.com/spf13/cobra"
)

var (
	shiftListFrom       string
	shiftListTo         string
	shiftListDepartment string
	shiftListJSON       bool

	shiftCreateEmployee   string
	shiftCreateDepartment string
	shiftCreateRole       string
	shiftCreateStart      string
	shiftCreateEnd        string
	shiftCreateNotes      string

	shiftPublishFrom string
	shiftPublishTo   string
)

func init() {
	shiftListCmd.Flags().StringVar(&shiftListFrom, "from", "", "Start date (YYYY-MM-DD)")
	shiftListCmd.Flags().StringVar(&shiftListTo, "to", "", "End date (YYYY-MM-DD)")
	shiftListCmd.Flags().StringVar(&shiftListDepartment, "department", "", "Filter by department ID")
	shiftListCmd.Flags().BoolVar(&shiftListJSON, "json", false, "Print raw JSON")

	shiftCreateCmd.Flags().StringVar(&shiftCreateEmployee, "employee", "", "Employee ID")
	shiftCreateCmd.Flags().StringVar(&shiftCreateDepartment, "department", "", "Department ID")
	shiftCreateCmd.Flags().StringVar(&shiftCreateRole, "role", "", "Role ID")
	shiftCreateCmd.Flags().StringVar(&shiftCreateStart, "start", "", "Start time (RFC3339)")
	shiftCreateCmd.Flags().StringVar(&shiftCreateEnd, "end", "", "End time (RFC3339)")
	shiftCreateCmd.Flags().StringVar(&shiftCreateNotes, "notes", "", "Shift notes")
	shiftCreateCmd.MarkFlagRequired("employee")
	shiftCreateCmd.MarkFlagRequired("start")
	shiftCreateCmd.MarkFlagRequired("end")

	shiftPublishCmd.Flags().StringVar(&shiftPublishFrom, "from", "", "Start date (YYYY-MM-DD)")
	shiftPublishCmd.Flags().StringVar(&shiftPublishTo, "to", "", "End date (YYYY-MM-DD)")
	shiftPublishCmd.MarkFlagRequired("from")
	shiftPublishCmd.MarkFlagRequired("to")

	shiftCmd.AddCommand(shiftListCmd)
	shiftCmd.AddCommand(shiftCreateCmd)
	shiftCmd.AddCommand(shiftPublishCmd)
	rootCmd.AddCommand(shiftCmd)
}

var shiftCmd = &cobra.Command{
	Use:   "shift",
	Short: "Manage shifts",
	Long:  "List, create, and publish shifts on the schedule.",
}

var shiftListCmd = &cobra.Command{
	Use:   "list",
	Short: "List shifts in a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Shifts.List(ctx, &rosterly.ShiftQuery{
			From:         shiftListFrom,
			To:           shiftListTo,
			DepartmentID: shiftListDepartment,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		if shiftListJSON {
			fmt.Println(string(result.Data))
			return nil
		}

		var shifts []rosterly.Shift
		if err := result.Decode(&shifts); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if len(shifts) == 0 {
			fmt.Println("No shifts found.")
			return nil
		}
		for _, s := range shifts {
			fmt.Printf("%-12s  %s - %s  employee=%s  dept=%s  %s\n",
				s.ID, s.StartTime, s.EndTime, s.EmployeeID, s.DepartmentID, s.Status)
		}
		return nil
	},
}

var shiftCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a shift",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Shifts.Create(ctx, &rosterly.Shift{
			EmployeeID:   shiftCreateEmployee,
			DepartmentID: shiftCreateDepartment,
			RoleID:       shiftCreateRole,
			StartTime:    shiftCreateStart,
			EndTime:      shiftCreateEnd,
			Notes:        shiftCreateNotes,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var created rosterly.Shift
		if err := result.Decode(&created); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		fmt.Printf("Created shift %s (%s - %s)\n", created.ID, created.StartTime, created.EndTime)
		return nil
	},
}

var shiftPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish draft shifts in a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := client.Shifts.Publish(ctx, shiftPublishFrom, shiftPublishTo)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var resp struct {
			Published int `json:"published"`
		}
		if err := result.Decode(&resp); err == nil && resp.Published > 0 {
			fmt.Printf("Published %d shifts.\n", resp.Published)
		} else {
			fmt.Println("Publish complete.")
		}
		return nil
	},
}

// apiError converts a failed Result into a printable error.
func apiError(result *rosterly.Result) error {
	if result.Error != nil {
		return fmt.Errorf("API error: %s: %s", result.Error.Code, result.Error.Message)
	}
	if len(result.Data) > 0 {
		var raw json.RawMessage = result.Data
		return fmt.Errorf("API error: %s", string(raw))
	}
	return fmt.Errorf("API returned an error (no details)")
}
