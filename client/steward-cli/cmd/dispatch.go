package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var dispatchContext []string

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [request]",
	Short: "Dispatch a free-text request to the best matching agent",
	Example: `  steward-cli dispatch "Research the Atlas grant deadlines"
  steward-cli dispatch "Pay the Acme invoice" --context vendor=Acme`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		extra, err := parseContext(dispatchContext)
		if err != nil {
			return err
		}
		res, err := newClient().Dispatch(cmd.Context(), strings.Join(args, " "), extra)
		if err != nil {
			return err
		}
		if rawJSON() {
			return printJSON(res)
		}
		fmt.Println(renderTask(res.Task))
		fmt.Println(field("routed by", res.Method))
		fmt.Printf("To follow progress, run: steward-cli watch --task %s\n", res.Task.ID)
		return nil
	},
}

// parseContext turns key=value pairs into a map.
func parseContext(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, val, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid context %q, expected key=value", p)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out, nil
}

func init() {
	dispatchCmd.Flags().StringSliceVar(&dispatchContext, "context", nil, "extra context as key=value (repeatable)")
	rootCmd.AddCommand(dispatchCmd)
}
