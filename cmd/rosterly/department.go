package main

import (
	"context"
	"fmt"
	"time"

	rosterly "github.com/rosterly/rosterly-go"
	"github.com/spf13/cobra"
)

var (
	departmentListJSON bool

	departmentCreateDescription string
	departmentCreateManager     string
)

func init() {
	departmentListCmd.Flags().BoolVar(&departmentListJSON, "json", false, "Print raw JSON")

	departmentCreateCmd.Flags().StringVar(&departmentCreateDescription, "description", "", "Department description")
	departmentCreateCmd.Flags().StringVar(&departmentCreateManager, "manager", "", "Manager employee ID")

	departmentCmd.AddCommand(departmentListCmd)
	departmentCmd.AddCommand(departmentCreateCmd)
	rootCmd.AddCommand(departmentCmd)
}

var departmentCmd = &cobra.Command{
	Use:     "department",
	Aliases: []string{"dept"},
	Short:   "Manage departments",
}

var departmentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List departments",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Departments.List(ctx, nil)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		if departmentListJSON {
			fmt.Println(string(result.Data))
			return nil
		}

		var depts []rosterly.Department
		if err := result.Decode(&depts); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if len(depts) == 0 {
			fmt.Println("No departments found.")
			return nil
		}
		for _, d := range depts {
			fmt.Printf("%-12s  %-24s  %s\n", d.ID, d.Name, d.Description)
		}
		return nil
	},
}

var departmentCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a department",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Departments.Create(ctx, &rosterly.Department{
			Name:        args[0],
			Description: departmentCreateDescription,
			ManagerID:   departmentCreateManager,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var created rosterly.Department
		if err := result.Decode(&created); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		fmt.Printf("Created department %s (%s)\n", created.ID, created.Name)
		return nil
	},
}
