package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

var (
	profileFlag string
	jsonOutput  bool
	timeoutFlag time.Duration

	profile string
)

var rootCmd = &cobra.Command{
	Use:           "chatsyncctl",
	Short:         "Control a running chatsync daemon",
	Long:          "Inspect and drive the chat sync daemon of a profile over its local control socket.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		profile = session.Resolve(profileFlag)
		return session.ValidateName(profile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dial connects to the profile's daemon, failing fast when none holds the lock.
func dial() (*api.Client, error) {
	if _, held := lock.Holder(session.Dir(profile)); !held {
		return nil, fmt.Errorf("no daemon running for profile %q (start chatsyncd --profile %s)", profile, profile)
	}
	c, err := api.Dial(session.SocketPath(profile))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for profile %q: %w", profile, err)
	}
	return c, nil
}

// withClient runs fn with a connected client and a request deadline.
func withClient(fn func(ctx context.Context, c *api.Client) error) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func short(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
