package cli

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/summarizer/summary-chat/internal/config"
	"github.com/summarizer/summary-chat/internal/service/conversation"
)

// options holds the persistent flags shared by every command.
type options struct {
	client  config.ClientConfig
	verbose bool
}

func (o *options) conversationClient() (*conversation.Client, error) {
	return conversation.NewClient(o.client.APIURL, conversation.WithToken(o.client.Token))
}

// NewRootCommand builds the summary-chat command tree. Flag defaults come
// from the CHAT_* environment variables.
func NewRootCommand() *cobra.Command {
	opts := &options{client: config.LoadClient()}

	rootCmd := &cobra.Command{
		Use:   "summary-chat",
		Short: "Chat with an AI assistant about a document summary",
		Long: `Terminal client for the summary chat service.

Open a realtime chat about a summary, save the transcript, and manage
saved conversations.

Quick Start:
  summary-chat chat <summary-id> --save     # Chat and save on exit
  summary-chat conversations list           # List saved conversations
  summary-chat conversations show <id> -f yaml`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				log.SetOutput(cmd.ErrOrStderr())
			} else {
				log.SetOutput(io.Discard)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.client.WSURL, "ws-url", opts.client.WSURL, "Websocket base URL of the chat service")
	flags.StringVar(&opts.client.APIURL, "api-url", opts.client.APIURL, "REST base URL of the conversation API")
	flags.StringVar(&opts.client.Token, "token", opts.client.Token, "Bearer token for the chat service")
	flags.StringVar(&opts.client.UserID, "user", opts.client.UserID, "User id that owns saved conversations")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(newChatCommand(opts))
	rootCmd.AddCommand(newConversationsCommand(opts))
	return rootCmd
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
