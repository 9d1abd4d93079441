package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/chat"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/client"
	"github.com/arnoldphilip/WhatsApp-LAN-Chat/internal/identity"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	errPendingApproval = errors.New("waiting for admin approval")
	errPasswordNeeded  = errors.New("admin password required (use --password)")
)

// app holds the settings shared by every subcommand. Flags are bound to
// viper so CHATCTL_* variables override the defaults.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CHATCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Terminal client for the LAN chat server",
		Long:          "chatctl joins a LAN chat server over its websocket endpoint to read history, post, delete with an undo window, and run admin actions.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("server", "ws://localhost:8000/ws", "websocket endpoint of the chat server")
	flags.String("name", "", "display name used on first join")
	flags.String("identity-file", defaultIdentityFile(), "file holding this device's user id")
	flags.String("password", "", "admin password, only needed to claim the admin name")
	flags.String("origin", "", "Origin header sent with the handshake")
	flags.Bool("force", false, "take the admin role without waiting for the incumbent")
	flags.Duration("timeout", 15*time.Second, "how long to wait for the server to answer")
	if err := v.BindPFlags(flags); err != nil {
		failWith(rootCmd, fmt.Errorf("bind flags: %w", err))
	}

	a := &app{v: v}
	rootCmd.AddCommand(
		newHistoryCmd(a),
		newListenCmd(a),
		newSendCmd(a),
		newDeleteCmd(a),
		newUsersCmd(a),
		newAdminCmd(a),
		newLogoutCmd(a),
	)
	return rootCmd
}

// failWith makes every subcommand of root return err before it runs.
func failWith(root *cobra.Command, err error) {
	root.PersistentPreRunE = func(*cobra.Command, []string) error {
		return err
	}
}

func defaultIdentityFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatctl-identity"
	}
	return filepath.Join(home, ".chatctl", "identity")
}

// loadIdentity returns the stored user id, creating one on first use.
func (a *app) loadIdentity() (string, error) {
	path := a.v.GetString("identity-file")
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if identity.IsValidUserID(id) {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read identity file: %w", err)
	}

	id := identity.NewUserID()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create identity directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write identity file: %w", err)
	}
	return id, nil
}

func (a *app) forgetIdentity() {
	_ = os.Remove(a.v.GetString("identity-file"))
}

func (a *app) timeout() time.Duration {
	return a.v.GetDuration("timeout")
}

func (a *app) dial(ctx context.Context, opts client.Options) (*client.Client, error) {
	opts.Origin = a.v.GetString("origin")
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dialCtx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()
	return client.Dial(dialCtx, a.v.GetString("server"), opts)
}

// joinMode says what join does when the session is still pending.
type joinMode int

const (
	requireApproval joinMode = iota // fail with errPendingApproval
	awaitApproval                   // block until approved
	allowPending                    // return the pending session
)

// join dials and joins the chat as this device.
func (a *app) join(ctx context.Context, cmd *cobra.Command, opts client.Options, mode joinMode) (*client.Client, chat.LoginSuccess, error) {
	var login chat.LoginSuccess

	userID, err := a.loadIdentity()
	if err != nil {
		return nil, login, err
	}
	c, err := a.dial(ctx, opts)
	if err != nil {
		return nil, login, err
	}

	err = c.Join(ctx, chat.JoinRequest{
		Name:     a.v.GetString("name"),
		UserID:   userID,
		Password: a.v.GetString("password"),
		Force:    a.v.GetBool("force"),
	})
	if err != nil {
		_ = c.Close()
		return nil, login, err
	}

	for {
		waitCtx := ctx
		cancel := func() {}
		if mode != awaitApproval {
			waitCtx, cancel = context.WithTimeout(ctx, a.timeout())
		}
		ev, err := c.Wait(waitCtx,
			chat.EventLoginSuccess, chat.EventWaitingApproval, chat.EventRequirePassword,
			chat.EventAccessDenied, chat.EventUserRemoved, chat.EventConflictPending)
		cancel()
		if err != nil {
			_ = c.Close()
			return nil, login, err
		}

		switch ev.Name {
		case chat.EventLoginSuccess:
			if err := ev.Decode(&login); err != nil {
				_ = c.Close()
				return nil, login, err
			}
			return c, login, nil
		case chat.EventWaitingApproval:
			switch mode {
			case requireApproval:
				_ = c.Close()
				return nil, login, errPendingApproval
			case allowPending:
				var pending chat.WaitingApproval
				if err := ev.Decode(&pending); err != nil {
					_ = c.Close()
					return nil, login, err
				}
				return c, chat.LoginSuccess{UserID: pending.UserID, Name: pending.Name}, nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "waiting for admin approval...")
		case chat.EventConflictPending:
			fmt.Fprintln(cmd.OutOrStdout(), "admin is connected elsewhere, waiting for the handover...")
		case chat.EventRequirePassword:
			_ = c.Close()
			return nil, login, errPasswordNeeded
		case chat.EventAccessDenied, chat.EventUserRemoved:
			var notice chat.Notice
			_ = ev.Decode(&notice)
			a.forgetIdentity()
			_ = c.Close()
			return nil, login, fmt.Errorf("access denied: %s", notice.Reason)
		}
	}
}
