package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"taskstream/internal/client"
	"taskstream/internal/stream"
)

var (
	submitModel        string
	submitInstructions string
	submitConversation string
	submitDetach       bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <prompt>",
	Short: "Submit a prompt and follow its stream",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := client.SubmitRequest{
			Prompt:         strings.Join(args, " "),
			Model:          submitModel,
			Instructions:   submitInstructions,
			ConversationID: submitConversation,
		}
		c := newClient()
		if submitDetach {
			ctx, cancel := callContext(cmd)
			defer cancel()
			rec, err := c.Submit(ctx, req)
			if err != nil {
				return err
			}
			fmt.Println(rec.JobID)
			return nil
		}
		p := &printer{}
		st, err := c.SubmitStream(cmd.Context(), req, p.frame)
		if err != nil {
			return err
		}
		return p.finish(st)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a job from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := &printer{jobID: args[0]}
		st, err := newClient().Resume(cmd.Context(), args[0], p.frame)
		if err != nil {
			return err
		}
		return p.finish(st)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitModel, "model", "", "Model name (server default if unset)")
	submitCmd.Flags().StringVar(&submitInstructions, "instructions", "", "System instructions")
	submitCmd.Flags().StringVar(&submitConversation, "conversation", "", "Conversation id to tag the job with")
	submitCmd.Flags().BoolVarP(&submitDetach, "detach", "d", false, "Print the job id and return without streaming")
	rootCmd.AddCommand(submitCmd, resumeCmd)
}

// printer writes content as it arrives and status lines to stderr. Content
// is printed from the folded state, so a resumed job shows its checkpointed
// prefix first.
type printer struct {
	jobID   string
	printed int
}

func (p *printer) content(st stream.State) {
	if len(st.Content) > p.printed {
		fmt.Print(st.Content[p.printed:])
		p.printed = len(st.Content)
	}
}

func (p *printer) frame(f stream.Frame, st stream.State) {
	p.content(st)
	for _, ev := range f.Events {
		switch ev := ev.(type) {
		case stream.JobStatus:
			if p.jobID == "" && ev.JobID != "" {
				p.jobID = ev.JobID
				fmt.Fprintf(os.Stderr, "job %s\n", ev.JobID)
			}
		case stream.ToolUseEvent:
			fmt.Fprintf(os.Stderr, "[tool %s %s]\n", ev.Name, ev.Phase)
		}
	}
}

func (p *printer) finish(st stream.State) error {
	p.content(st)
	fmt.Println()
	if asJSON {
		return printJSON(st)
	}
	if len(st.Citations) > 0 {
		fmt.Fprintln(os.Stderr, "sources:")
		for _, c := range st.Citations {
			fmt.Fprintf(os.Stderr, "  %s %s\n", c.Title, c.URL)
		}
	}
	if st.Err != nil {
		return fail("stream ended with %s error: %s (resume with: streamctl resume %s)", st.Err.Type, st.Err.Message, p.jobID)
	}
	fmt.Fprintf(os.Stderr, "status: %s (cursor %d)\n", st.Status, st.Cursor)
	return nil
}
