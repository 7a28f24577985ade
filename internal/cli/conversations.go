package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/summarizer/summary-chat/internal/service/conversation"
)

func newConversationsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage saved conversations",
	}
	cmd.AddCommand(newListCommand(opts), newShowCommand(opts), newDeleteCommand(opts))
	return cmd
}

func newListCommand(opts *options) *cobra.Command {
	var page, size int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.conversationClient()
			if err != nil {
				return err
			}
			result, err := client.ListPage(cmd.Context(), opts.client.UserID, page, size)
			if err != nil {
				return fmt.Errorf("failed to list conversations: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(result.Content) == 0 {
				fmt.Fprintln(out, "No saved conversations.")
				return nil
			}
			for _, conv := range result.Content {
				fmt.Fprintln(out, renderConversationRow(conv))
			}
			fmt.Fprintf(out, "\npage %d of %d, %d total\n", page+1, result.TotalPages, result.TotalElements)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 0, "Zero-based page number")
	cmd.Flags().IntVar(&size, "size", conversation.DefaultPageSize, "Page size")
	return cmd
}

func newShowCommand(opts *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.conversationClient()
			if err != nil {
				return err
			}
			conv, err := client.Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load conversation: %w", err)
			}
			return writeConversation(cmd.OutOrStdout(), conv, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format (text, json, yaml)")
	return cmd
}

func newDeleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.conversationClient()
			if err != nil {
				return err
			}
			if err := client.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete conversation: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
