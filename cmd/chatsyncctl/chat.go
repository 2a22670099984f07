package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/spf13/cobra"
)

var (
	messagesPage     int
	sendConversation string
	sendWait         bool
	sendAttach       []string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and sync status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(st)
			}
			fmt.Printf("Profile:       %s\n", st.Profile)
			fmt.Printf("User:          %s\n", st.UserID)
			fmt.Printf("Status:        %s (%s)\n", st.Status, st.State)
			fmt.Printf("Uptime:        %dms\n", st.UptimeMs)
			fmt.Printf("Conversations: %d\n", st.Conversations)
			fmt.Printf("Messages:      %d (%d unconfirmed)\n", st.Messages, st.TempMessages)
			fmt.Printf("Unread:        %d\n", st.UnreadTotal)
			fmt.Printf("Pending:       %d\n", st.Pending)
			if st.CurrentConversationID != "" {
				fmt.Printf("Open:          %s\n", st.CurrentConversationID)
			}
			return nil
		})
	},
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List conversations, most recent first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.Conversations(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(reply)
			}
			if len(reply.Conversations) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			for _, conv := range reply.Conversations {
				preview := ""
				if conv.LastMessage != nil {
					preview = short(conv.LastMessage.Content, 40)
				}
				fmt.Printf("%-26s %-24s %3d  %s  %s\n",
					conv.ID, strings.Join(participants(conv), ","), conv.UnreadCount, stamp(conv.LastMessageAt), preview)
			}
			return nil
		})
	},
}

func participants(c chat.Conversation) []string {
	if len(c.ParticipantDetails) == 0 {
		return c.ParticipantIDs
	}
	out := make([]string, 0, len(c.ParticipantDetails))
	for _, p := range c.ParticipantDetails {
		name := p.Username
		if name == "" {
			name = p.ID
		}
		out = append(out, name)
	}
	return out
}

var messagesCmd = &cobra.Command{
	Use:   "messages [conversation-id]",
	Short: "Show a conversation's loaded messages (default: the open one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := ""
		if len(args) == 1 {
			conversationID = args[0]
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.Messages(ctx, conversationID, messagesPage)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(reply)
			}
			printThread(reply.Messages)
			return nil
		})
	},
}

func printThread(msgs []chat.Message) {
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range msgs {
		flags := ""
		switch {
		case m.IsTemp:
			flags = " [sending]"
		case m.IsRead:
			flags = " [read]"
		}
		fmt.Printf("%s  %-12s %s%s\n", stamp(m.CreatedAt), m.SenderID, m.Content, flags)
	}
}

var sendCmd = &cobra.Command{
	Use:   "send [receiver-id] [text]",
	Short: "Send a message",
	Long:  "Send a message to a user, or to the other participant of --conversation. Files given with --attach are uploaded first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.SendRequest{ConversationID: sendConversation, Wait: sendWait, MessageType: chat.TypeText}
		if sendConversation == "" {
			if len(args) == 0 {
				return fmt.Errorf("send needs a receiver id, or --conversation")
			}
			req.ReceiverID, args = args[0], args[1:]
		}
		req.Content = strings.Join(args, " ")
		for _, path := range sendAttach {
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			req.Files = append(req.Files, abs)
		}
		if len(req.Files) > 0 {
			req.MessageType = attachmentType(req.Files[0])
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.Send(ctx, req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(reply)
			}
			if reply.Confirmed {
				fmt.Printf("Sent %s in %s\n", reply.Message.ID, reply.Message.ConversationID)
			} else {
				fmt.Printf("Queued %s in %s\n", reply.Message.ID, reply.Message.ConversationID)
			}
			return nil
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Open a conversation, load its latest messages and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.Open(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(reply)
			}
			printThread(reply.Messages)
			return nil
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close [conversation-id]",
	Short: "Close a conversation (default: the open one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := ""
		if len(args) == 1 {
			conversationID = args[0]
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.CloseConversation(ctx, conversationID)
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start <user-id>",
	Short: "Find or create the conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.StartConversation(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(reply)
			}
			fmt.Println(reply.Conversation.ID)
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark every message in a conversation read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			n, err := c.MarkRead(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(api.CountReply{Count: n})
			}
			fmt.Printf("Marked %d messages read\n", n)
			return nil
		})
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <message-id>",
	Short: "Recall one of your messages for everyone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.Recall(ctx, args[0])
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Hide a message for yourself",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.Delete(ctx, args[0])
		})
	},
}

// attachmentType guesses image or file from the extension.
func attachmentType(path string) chat.MessageType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return chat.TypeImage
	}
	return chat.TypeFile
}

func init() {
	messagesCmd.Flags().IntVar(&messagesPage, "page", 1, "load an older page first (2 = the page before the latest)")
	sendCmd.Flags().StringVar(&sendConversation, "conversation", "", "send to the other participant of this conversation")
	sendCmd.Flags().StringSliceVar(&sendAttach, "attach", nil, "upload and attach a file (repeatable)")
	sendCmd.Flags().BoolVar(&sendWait, "wait", false, "wait for the server to confirm the message")

	rootCmd.AddCommand(statusCmd, conversationsCmd, messagesCmd, sendCmd, openCmd, closeCmd, startCmd, readCmd, recallCmd, deleteCmd)
}
