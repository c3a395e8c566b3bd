// Command streamctl submits, follows, resumes and cancels taskstream jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"taskstream/internal/client"
)

var (
	serverURL string
	token     string
	timeout   time.Duration
	asJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "streamctl",
	Short: "Client for taskstream background jobs",
	Long: `streamctl talks to a taskstream server. It can submit prompts, follow the
live stream, resume a job after a disconnect from its last checkpoint, and
cancel or inspect jobs.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("TASKSTREAM_URL", "http://localhost:8080"), "Server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("TASKSTREAM_TOKEN"), "Bearer token (JWT)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for non-streaming calls")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Output as JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient() *client.Client {
	return client.New(serverURL, token, nil)
}

// callContext bounds a non-streaming call.
func callContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func fail(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
