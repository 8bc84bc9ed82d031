package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List, view and review tasks and outreach proposals",
}

var (
	listStatuses []string
	listAgent    string
	listLimit    int
	reviewNotes  string
)

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := newClient().ListTasks(cmd.Context(), listStatuses, listAgent, listLimit)
		if err != nil {
			return err
		}
		if rawJSON() {
			return printJSON(tasks)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}
		for _, t := range tasks {
			fmt.Println(renderTaskRow(t))
		}
		return nil
	},
}

var tasksViewCmd = &cobra.Command{
	Use:   "view [id]",
	Short: "Show a task or proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := newClient().View(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printItem(item)
	},
}

func reviewCommand(decision, short string) *cobra.Command {
	c := &cobra.Command{
		Use:   decision + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := newClient().Review(cmd.Context(), args[0], decision, reviewNotes)
			if err != nil {
				return err
			}
			return printItem(item)
		},
	}
	c.Flags().StringVar(&reviewNotes, "notes", "", "review notes")
	return c
}

func printItem(item *ReviewItem) error {
	if rawJSON() {
		return printJSON(item)
	}
	fmt.Println(renderItem(item))
	return nil
}

func init() {
	tasksListCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "filter by status (queued, approved, working, review, done, rejected, failed)")
	tasksListCmd.Flags().StringVar(&listAgent, "agent", "", "filter by assigned agent")
	tasksListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of tasks")

	tasksCmd.AddCommand(tasksListCmd, tasksViewCmd,
		reviewCommand("approve", "Approve a task in review, a queued suggestion, or a proposal"),
		reviewCommand("reject", "Reject a task or proposal"),
	)
	rootCmd.AddCommand(tasksCmd)
}
