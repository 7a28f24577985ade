package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

var (
	// Styles
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	stateColors = map[chat.ConnectionState]lipgloss.Color{
		chat.StateConnected:    "42",
		chat.StateConnecting:   "214",
		chat.StateDisconnected: "243",
		chat.StateError:        "196",
	}
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"

	dateLayout = "2006-01-02 15:04"
)

func renderMessage(msg chat.ChatMessage) string {
	label, style := "you", userStyle
	if msg.Role == chat.RoleAssistant {
		label, style = "assistant", assistantStyle
	}
	stamp := ""
	if !msg.Timestamp.IsZero() {
		stamp = dateStyle.Render(msg.Timestamp.Local().Format("15:04")) + " "
	}
	return stamp + style.Render(label+" >") + " " + msg.Content
}

func renderState(state chat.ConnectionState) string {
	return lipgloss.NewStyle().Foreground(stateColors[state]).Render("* " + state.String())
}

func renderSystem(text string) string {
	return systemStyle.Render(text)
}

func renderError(text string) string {
	return errorStyle.Render("! " + text)
}

func renderConversationRow(conv chat.Conversation) string {
	return fmt.Sprintf("%s  %s  %s  %s",
		idStyle.Render(conv.ID),
		titleStyle.Render(conv.Title),
		fmt.Sprintf("%d messages", conv.MessageCount),
		dateStyle.Render(conv.UpdatedAt.Local().Format(dateLayout)),
	)
}

// writeConversation prints one conversation in the requested format.
func writeConversation(w io.Writer, conv chat.Conversation, format string) error {
	switch strings.ToLower(format) {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(conv)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(conv); err != nil {
			return err
		}
		return enc.Close()
	case formatText, "":
		fmt.Fprintln(w, titleStyle.Render(conv.Title))
		fmt.Fprintf(w, "%s  summary %s  updated %s\n\n",
			idStyle.Render(conv.ID), conv.SummaryID, dateStyle.Render(conv.UpdatedAt.Local().Format(dateLayout)))
		for _, msg := range conv.Messages {
			fmt.Fprintln(w, renderMessage(msg))
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q (use text, json or yaml)", format)
	}
}
