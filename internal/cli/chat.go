package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/summarizer/summary-chat/internal/model/chat"
	"github.com/summarizer/summary-chat/internal/service/realtime"
	"github.com/summarizer/summary-chat/internal/service/session"
)

const chatHelp = `Commands:
  /save [title]   save the transcript
  /load <id>      replace the log with a saved conversation
  /list           list saved conversations
  /clear          clear the log
  /title <title>  set the title used by the next save
  /connect        open the channel
  /disconnect     close the channel
  /reconnect      reconnect now
  /status         show connection and save state
  /quit           leave`

func newChatCommand(opts *options) *cobra.Command {
	var (
		save  bool
		title string
	)

	cmd := &cobra.Command{
		Use:   "chat <summary-id>",
		Short: "Chat with the assistant about a summary",
		Long: `Open a realtime chat about a summary. Lines typed on stdin are sent as
messages; lines starting with / are commands (see /help).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			persister, err := opts.conversationClient()
			if err != nil {
				return err
			}

			out := &syncWriter{w: cmd.OutOrStdout()}
			repl := &chatREPL{out: out, printed: make(map[string]struct{})}

			sess, err := session.New(session.Config{
				SummaryID: args[0],
				UserID:    opts.client.UserID,
				Realtime: realtime.Options{
					BaseURL: opts.client.WSURL,
					Token:   opts.client.Token,
				},
				Persister: persister,
				Observer:  repl.observe,
			})
			if err != nil {
				return err
			}
			defer sess.Close()
			repl.sess = sess

			sess.SetSaveEnabled(save)
			if title != "" {
				sess.SetTitle(title)
			}
			if err := sess.Open(); err != nil {
				return err
			}

			out.Println(renderSystem("Type a message, /help for commands, /quit to leave."))
			if err := repl.run(cmd.Context(), cmd.InOrStdin()); err != nil {
				return err
			}

			if save && len(sess.Store().Transcript()) > 0 {
				repl.save(cmd.Context(), "")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "Save the conversation on exit and derive a title from the first message")
	cmd.Flags().StringVar(&title, "title", "", "Title for the saved conversation")
	return cmd
}

// syncWriter serializes output from the input loop and the session observer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
}

type chatREPL struct {
	sess *session.Session
	out  *syncWriter

	mu      sync.Mutex
	printed map[string]struct{}
	typing  bool
}

func (r *chatREPL) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if r.handleLine(ctx, scanner.Text()) {
			return nil
		}
	}
	return scanner.Err()
}

// handleLine runs one line of input and reports whether the user asked to quit.
func (r *chatREPL) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		err := r.sess.Send(line)
		// not-connected is already shown by the observer
		if err != nil && !errors.Is(err, realtime.ErrNotConnected) && !errors.Is(err, realtime.ErrClosed) {
			r.report(err)
		}
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		r.out.Println(chatHelp)
	case "/save":
		r.save(ctx, arg)
	case "/load":
		if arg == "" {
			r.out.Println(renderError("usage: /load <conversation-id>"))
			return false
		}
		conv, err := r.sess.Load(ctx, arg)
		if err != nil {
			r.out.Println(renderError("load failed: " + err.Error()))
			return false
		}
		r.out.Println(renderSystem(fmt.Sprintf("Loaded %q (%d messages)", conv.Title, conv.MessageCount)))
	case "/list":
		items, err := r.sess.List(ctx)
		if err != nil {
			r.out.Println(renderError("list failed: " + err.Error()))
			return false
		}
		if len(items) == 0 {
			r.out.Println(renderSystem("No saved conversations."))
		}
		for _, conv := range items {
			r.out.Println(renderConversationRow(conv))
		}
	case "/clear":
		r.sess.Clear()
		r.out.Println(renderSystem("Log cleared."))
	case "/title":
		r.sess.SetTitle(arg)
		r.out.Println(renderSystem(fmt.Sprintf("Title set to %q", arg)))
	case "/connect":
		r.report(r.sess.Open())
	case "/disconnect":
		r.report(r.sess.Disconnect())
	case "/reconnect":
		r.report(r.sess.Reconnect())
	case "/status":
		snap := r.sess.Store().Snapshot()
		r.out.Println(renderState(r.sess.State()))
		status := fmt.Sprintf("summary %s, %d messages", r.sess.SummaryID(), len(chat.StripTyping(snap.Messages)))
		if snap.Title != "" {
			status += fmt.Sprintf(", title %q", snap.Title)
		}
		if snap.IsSaved {
			status += ", saved as " + snap.ConversationID
		}
		r.out.Println(renderSystem(status))
		if snap.Error != "" {
			r.out.Println(renderError(snap.Error))
		}
	default:
		r.out.Println(renderError("unknown command " + name + ", try /help"))
	}
	return false
}

func (r *chatREPL) save(ctx context.Context, title string) {
	conv, err := r.sess.Save(ctx, title)
	if err != nil {
		r.out.Println(renderError("save failed: " + err.Error()))
		return
	}
	r.out.Println(renderSystem(fmt.Sprintf("Saved %q as %s", conv.Title, conv.ID)))
}

func (r *chatREPL) report(err error) {
	if err != nil {
		r.out.Println(renderError(err.Error()))
	}
}

// observe renders session events. It runs on the session's loop goroutine
// for channel events.
func (r *chatREPL) observe(ev session.Event) {
	switch ev.Kind {
	case session.EventState:
		r.out.Println(renderState(ev.State))
	case session.EventSystem:
		r.out.Println(renderSystem(ev.System.Message))
	case session.EventError:
		r.out.Println(renderError(ev.Error))
	case session.EventLog:
		r.renderLog()
	}
}

// renderLog prints log entries not shown yet. A replaced or cleared log
// resets what counts as shown.
func (r *chatREPL) renderLog() {
	if r.sess == nil {
		return
	}
	msgs := r.sess.Store().Messages()

	r.mu.Lock()
	defer r.mu.Unlock()

	present := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		present[msg.ID] = struct{}{}
	}
	for id := range r.printed {
		if _, ok := present[id]; !ok {
			r.printed = make(map[string]struct{})
			break
		}
	}

	typing := false
	for _, msg := range msgs {
		if msg.IsTyping {
			typing = true
			continue
		}
		if _, ok := r.printed[msg.ID]; ok {
			continue
		}
		r.printed[msg.ID] = struct{}{}
		r.out.Println(renderMessage(msg))
	}
	if typing && !r.typing {
		r.out.Println(renderSystem("assistant is typing..."))
	}
	r.typing = typing
}
