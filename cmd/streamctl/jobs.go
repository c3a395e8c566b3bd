package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's reconciled status and output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := callContext(cmd)
		defer cancel()
		st, err := newClient().Status(ctx, args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(st)
		}
		fmt.Printf("status: %s\ncursor: %d\n", st.Status, st.Cursor)
		if st.Error != "" {
			fmt.Printf("error:  %s\n", st.Error)
		}
		if st.OutputText != "" {
			fmt.Printf("\n%s\n", st.OutputText)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job; cancelling a finished job reports its final status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := callContext(cmd)
		defer cancel()
		st, err := newClient().Cancel(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(st)
		return nil
	},
}

var activeCmd = &cobra.Command{
	Use:   "active",
	Short: "List your queued and running jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := callContext(cmd)
		defer cancel()
		recs, err := newClient().Active(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(recs)
		}
		if len(recs) == 0 {
			fmt.Println("No active jobs.")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "JOB\tSTATUS\tCURSOR\tMODEL\tAGE")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.JobID, r.Status, r.Cursor, r.Model, time.Since(r.CreatedAt).Round(time.Second))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, cancelCmd, activeCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
