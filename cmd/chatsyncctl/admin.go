package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/spf13/cobra"
)

var (
	journalAfter        int64
	journalConversation string
	journalLimit        int

	settingsMuted             bool
	settingsRequireAcceptance bool

	usersLimit int
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List messages awaiting acceptance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.Pending(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(reply)
			}
			if len(reply.Pending) == 0 {
				fmt.Println("No pending messages.")
				return nil
			}
			for _, p := range reply.Pending {
				from := p.Sender.Username
				if from == "" {
					from = p.Sender.ID
				}
				fmt.Printf("%-26s %-16s %s  %s\n", p.MessageID, from, stamp(p.ReceivedAt), short(p.Message.Content, 50))
			}
			return nil
		})
	},
}

var pendingAcceptCmd = &cobra.Command{
	Use:   "accept <message-id>",
	Short: "Accept a pending message into its conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.Accept(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(reply)
			}
			if reply.Message != nil {
				fmt.Printf("Accepted %s into %s\n", reply.Message.ID, reply.Message.ConversationID)
			}
			return nil
		})
	},
}

var pendingRejectCmd = &cobra.Command{
	Use:   "reject <message-id>",
	Short: "Reject a pending message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.Reject(ctx, args[0])
		})
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List state transitions recorded since the daemon started",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.Journal(ctx, api.JournalRequest{
				AfterSeq:       journalAfter,
				ConversationID: journalConversation,
				Limit:          journalLimit,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(reply)
			}
			for _, e := range reply.Entries {
				fmt.Printf("%6d  %s  %-32s %s\n", e.Seq, e.CreatedAt.Local().Format("15:04:05.000"), e.Kind, e.ConversationID)
			}
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [kind-prefix]",
	Short: "Stream daemon events until interrupted",
	Long:  "Stream daemon events, optionally only those whose kind starts with a prefix (store., message., pending., session.).",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return c.Watch(ctx, prefix, func(evt api.Event) error {
			if jsonOutput {
				return outputJSON(evt)
			}
			fmt.Printf("%s  %-28s %s\n", evt.OccurredAt.Local().Format("15:04:05.000"), evt.Kind, string(evt.Payload))
			return nil
		})
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings <conversation-id>",
	Short: "Show or change a conversation's settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		update := api.SettingsUpdate{ConversationID: args[0]}
		if cmd.Flags().Changed("muted") {
			update.Muted = &settingsMuted
		}
		if cmd.Flags().Changed("require-acceptance") {
			update.RequireAcceptance = &settingsRequireAcceptance
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			var (
				reply api.SettingsReply
				err   error
			)
			if update.Muted == nil && update.RequireAcceptance == nil {
				reply, err = c.Settings(ctx, args[0])
			} else {
				reply, err = c.UpdateSettings(ctx, update)
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(reply)
			}
			fmt.Printf("Conversation:       %s\n", reply.Settings.ConversationID)
			fmt.Printf("Require acceptance: %v\n", reply.Settings.RequireAcceptance)
			fmt.Printf("Muted:              %v\n", reply.Settings.Muted)
			return nil
		})
	},
}

var usersCmd = &cobra.Command{
	Use:   "users <query>",
	Short: "Search users to start a conversation with",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.SearchUsers(ctx, args[0], usersLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(reply)
			}
			if len(reply.Users) == 0 {
				fmt.Println("No users found.")
				return nil
			}
			for _, u := range reply.Users {
				fmt.Printf("%-26s %-20s %s\n", u.ID, u.Username, u.FullName)
			}
			return nil
		})
	},
}

func init() {
	journalCmd.Flags().Int64Var(&journalAfter, "after", 0, "only entries after this sequence number")
	journalCmd.Flags().StringVar(&journalConversation, "conversation", "", "only entries for this conversation")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 50, "maximum entries (0 = all)")

	settingsCmd.Flags().BoolVar(&settingsMuted, "muted", false, "mute the conversation")
	settingsCmd.Flags().BoolVar(&settingsRequireAcceptance, "require-acceptance", false, "hold messages from new senders for acceptance")

	usersCmd.Flags().IntVar(&usersLimit, "limit", 20, "maximum results")

	pendingCmd.AddCommand(pendingAcceptCmd, pendingRejectCmd)
	rootCmd.AddCommand(pendingCmd, journalCmd, watchCmd, settingsCmd, usersCmd)
}
