package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/chat"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/client"
	"github.com/spf13/cobra"
)

var errNotAdmin = errors.New("this device is not the admin")

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin-only actions",
	}
	cmd.AddCommand(
		newPendingCmd(a),
		newActionCmd(a, chat.ActionApprove, "Let a pending participant in"),
		newActionCmd(a, chat.ActionReject, "Turn away a pending participant and free the name"),
		newActionCmd(a, chat.ActionRemove, "Ban an approved participant"),
		newEndCmd(a),
	)
	return cmd
}

// joinAdmin joins and fails unless the session holds the admin role.
func (a *app) joinAdmin(ctx context.Context, cmd *cobra.Command) (*client.Client, error) {
	c, login, err := a.join(ctx, cmd, client.Options{}, requireApproval)
	if err != nil {
		return nil, err
	}
	if !login.IsAdmin {
		_ = c.Close()
		return nil, errNotAdmin
	}
	return c, nil
}

func newPendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List participants waiting for approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.joinAdmin(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			waitCtx, cancel := context.WithTimeout(ctx, a.timeout())
			defer cancel()
			ev, err := c.Wait(waitCtx, chat.EventUpdateRequests)
			if err != nil {
				return err
			}
			var pending []chat.RosterEntry
			if err := ev.Decode(&pending); err != nil {
				return err
			}
			for _, p := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.UserID, p.Name)
			}
			return nil
		},
	}
}

func newActionCmd(a *app, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " USER_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.joinAdmin(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			// user_list closes the admission burst, so the next roster
			// update is the one caused by this action.
			waitCtx, cancel := context.WithTimeout(ctx, a.timeout())
			defer cancel()
			if _, err := c.Wait(waitCtx, chat.EventUserList); err != nil {
				return err
			}

			if err := c.AdminAction(ctx, action, args[0]); err != nil {
				return err
			}
			if _, err := c.Wait(waitCtx, chat.EventUpdateMembers); err != nil {
				return fmt.Errorf("%s %s: %w", action, args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: ok\n", action, args[0])
			return nil
		},
	}
}

func newEndCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "end save|delete",
		Short:     "End the chat for everyone, keeping or discarding the history",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{chat.ChoiceSave, chat.ChoiceDelete},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.joinAdmin(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.EndSession(ctx, args[0]); err != nil {
				return err
			}
			waitCtx, cancel := context.WithTimeout(ctx, a.timeout())
			defer cancel()
			if _, err := c.Wait(waitCtx, chat.EventSessionEnded); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session ended (%s)\n", args[0])
			return nil
		},
	}
}
