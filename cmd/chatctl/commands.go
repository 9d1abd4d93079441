package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/chat"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/client"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/domain"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the message history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, _, err := a.join(ctx, cmd, client.Options{}, requireApproval)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			waitCtx, cancel := context.WithTimeout(ctx, a.timeout())
			defer cancel()
			if _, err := c.Wait(waitCtx, chat.EventLoadMessages); err != nil {
				return err
			}
			for _, msg := range c.Replies().Messages() {
				fmt.Fprintln(cmd.OutOrStdout(), formatMessage(msg, c.Replies()))
			}
			return nil
		},
	}
}

func newListenCmd(a *app) *cobra.Command {
	var refuse bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Follow the chat until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, login, err := a.join(ctx, cmd, client.Options{}, awaitApproval)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "joined as %s (admin: %t)\n", login.Name, login.IsAdmin)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-c.Events():
					if !ok {
						return c.Err()
					}
					done, err := printEvent(ctx, out, c, ev, refuse)
					if done || err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&refuse, "refuse-conflicts", false, "refuse every admin takeover attempt automatically")
	return cmd
}

// printEvent renders one event. It reports true once the session is over.
func printEvent(ctx context.Context, out io.Writer, c *client.Client, ev client.Event, refuse bool) (bool, error) {
	switch ev.Name {
	case chat.EventLoadMessages:
		for _, msg := range c.Replies().Messages() {
			fmt.Fprintln(out, formatMessage(msg, c.Replies()))
		}
	case chat.EventNewMessage:
		var msg domain.Message
		if err := ev.Decode(&msg); err != nil {
			return false, err
		}
		fmt.Fprintln(out, formatMessage(msg, c.Replies()))
	case chat.EventMessageDeleted:
		var del chat.MessageDeleted
		if err := ev.Decode(&del); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "* message %s was deleted\n", del.ID)
	case chat.EventUpdateRequests:
		var pending []chat.RosterEntry
		if err := ev.Decode(&pending); err != nil {
			return false, err
		}
		for _, p := range pending {
			fmt.Fprintf(out, "* %s (%s) is waiting for approval\n", p.Name, p.UserID)
		}
	case chat.EventConflictAlert:
		var alert chat.ConflictAlert
		_ = ev.Decode(&alert)
		if !refuse {
			fmt.Fprintf(out, "* another device is claiming admin, it takes over in %ds\n", alert.TimeoutSeconds)
			return false, nil
		}
		fmt.Fprintln(out, "* another device is claiming admin, refusing")
		return false, c.RefuseConflict(ctx)
	case chat.EventConflictResolved:
		var res chat.ConflictResolved
		_ = ev.Decode(&res)
		fmt.Fprintf(out, "* admin claim resolved: %s\n", res.Outcome)
	case chat.EventError:
		var msg chat.ErrorMessage
		_ = ev.Decode(&msg)
		fmt.Fprintf(out, "! %s: %s\n", msg.Code, msg.Message)
	case chat.EventSessionEnded:
		var ended chat.SessionEnded
		_ = ev.Decode(&ended)
		fmt.Fprintf(out, "* the admin ended the chat (%s)\n", ended.Choice)
		return true, nil
	case chat.EventForcedLogout, chat.EventUserRemoved:
		var notice chat.Notice
		_ = ev.Decode(&notice)
		return true, fmt.Errorf("%s: %s", ev.Name, notice.Reason)
	}
	return false, nil
}

func formatMessage(msg domain.Message, replies *client.ReplyCache) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s (%s): ", msg.ID, msg.SenderName, humanize.Time(msg.Timestamp))
	switch {
	case msg.Deleted:
		b.WriteString("This message was deleted")
	case msg.Attachment != nil:
		b.WriteString(msg.Text)
		if msg.Text != "" {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "<%s %s>", msg.Attachment.Name, msg.Attachment.URL)
	default:
		b.WriteString(msg.Text)
	}
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "  ↪ %s", replies.Quote(msg.ReplyTo))
	}
	return b.String()
}

func newSendCmd(a *app) *cobra.Command {
	var replyTo, attachment string

	cmd := &cobra.Command{
		Use:   "send TEXT",
		Short: "Post a message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := chat.SendMessageRequest{ReplyTo: replyTo}
			if len(args) == 1 {
				req.Text = args[0]
			}
			if attachment != "" {
				req.Attachment = &domain.Attachment{}
				if err := json.Unmarshal([]byte(attachment), req.Attachment); err != nil {
					return fmt.Errorf("parse --attachment: %w", err)
				}
			}

			ctx := cmd.Context()
			c, login, err := a.join(ctx, cmd, client.Options{}, requireApproval)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Post(ctx, req); err != nil {
				return err
			}
			waitCtx, cancel := context.WithTimeout(ctx, a.timeout())
			defer cancel()
			for {
				ev, err := c.Wait(waitCtx, chat.EventNewMessage)
				if err != nil {
					return err
				}
				var msg domain.Message
				if err := ev.Decode(&msg); err != nil {
					return err
				}
				if msg.SenderUserID == login.UserID {
					fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the message being answered")
	cmd.Flags().StringVar(&attachment, "attachment", "", `attachment descriptor returned by /upload, as JSON {"url","type","name"}`)
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one of your messages, with a window to undo it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, _, err := a.join(ctx, cmd, client.Options{UndoWindow: window}, requireApproval)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			out := cmd.OutOrStdout()
			if window > 0 {
				c.StageDelete(id)
				fmt.Fprintf(out, "deleting %s in %s, press Ctrl+C to undo\n", id, window)
			} else if err := c.Delete(ctx, id); err != nil {
				return err
			}

			// Deleting someone else's message is silently ignored, so bound
			// the wait past the window.
			waitCtx, cancel := context.WithTimeout(ctx, window+a.timeout())
			defer cancel()
			for {
				ev, err := c.Wait(waitCtx, chat.EventMessageDeleted)
				if err != nil {
					if ctx.Err() != nil && c.CancelDelete(id) {
						fmt.Fprintln(out, "undone")
						return nil
					}
					return fmt.Errorf("message %s was not deleted: %w", id, err)
				}
				var del chat.MessageDeleted
				if err := ev.Decode(&del); err != nil {
					return err
				}
				if del.ID == id {
					fmt.Fprintf(out, "deleted %s\n", id)
					return nil
				}
			}
		},
	}
	cmd.Flags().DurationVar(&window, "undo-window", client.DefaultUndoWindow, "delay before the delete is sent; 0 deletes immediately")
	return cmd
}

func newUsersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List connected members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, _, err := a.join(ctx, cmd, client.Options{}, requireApproval)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Users(ctx); err != nil {
				return err
			}
			waitCtx, cancel := context.WithTimeout(ctx, a.timeout())
			defer cancel()
			ev, err := c.Wait(waitCtx, chat.EventUserList)
			if err != nil {
				return err
			}
			var names []string
			if err := ev.Decode(&names); err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Erase this device's session so the name can be reused",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, _, err := a.join(ctx, cmd, client.Options{}, allowPending)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Logout(ctx); err != nil {
				return err
			}
			waitCtx, cancel := context.WithTimeout(ctx, a.timeout())
			defer cancel()
			if _, err := c.Wait(waitCtx, chat.EventClearIdentity); err != nil {
				return err
			}
			a.forgetIdentity()
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}
