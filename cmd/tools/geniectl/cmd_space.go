package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Show the configured Genie space",
	RunE:  runSpace,
}

func init() {
	spaceCmd.Flags().Bool("json", false, "Print the space as JSON")
}

func runSpace(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	client, _, err := newClient()
	if err != nil {
		return err
	}
	info, err := client.GetSpace(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(out, "%s (%s)\n", info.Title, info.ID)
	if info.Description != "" {
		fmt.Fprintf(out, "\n%s\n", info.Description)
	}
	if len(info.SampleQuestions) > 0 {
		fmt.Fprintln(out, "\nSample questions:")
		for _, q := range info.SampleQuestions {
			fmt.Fprintf(out, "  - %s\n", q)
		}
	}
	return nil
}
