package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/tradedesk/session"
	"github.com/jmcleod/tradedesk/storage"
)

var (
	loginOTP   string
	loginAuto  bool
	loginForce bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Reuse the saved session or log in to the broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		auto := cfg.Session.AutoOTP
		if cmd.Flags().Changed("auto-otp") {
			auto = loginAuto
		}
		return withApp(func(a *app) error {
			sess, err := a.sessions.EnsureSession(cmd.Context(), session.EnsureOptions{
				PreferAutoCode: auto,
				ManualCode:     strings.TrimSpace(loginOTP),
				ForceLogin:     loginForce,
			})
			if err != nil {
				return err
			}
			return printSession(cmd.OutOrStdout(), sess)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.sessions.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session cleared.")
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved session without contacting the broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			rec, err := a.store.Load(cmd.Context())
			if errors.Is(err, storage.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved session.")
				return nil
			}
			if err != nil {
				return err
			}
			t := newTable("Saved session", "Field", "Value")
			t.add("uid", rec.UserID)
			t.add("actid", rec.AccountID)
			t.add("api session key", mask(rec.APISessionKey))
			t.add("transport session key", mask(rec.TransportSessionKey))
			t.add("store", cfg.Session.Store)
			return render(cmd.OutOrStdout(), t.markdown())
		})
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd)
	loginCmd.Flags().StringVar(&loginOTP, "otp", "", "One-time code to send with the login")
	loginCmd.Flags().BoolVar(&loginAuto, "auto-otp", false, "Generate the one-time code from the TOTP secret (default from config)")
	loginCmd.Flags().BoolVar(&loginForce, "force", false, "Ignore the saved session and log in again")
}

func printSession(w io.Writer, sess *session.Session) error {
	t := newTable("Session", "Field", "Value")
	t.add("uid", sess.UserID)
	t.add("actid", sess.AccountID)
	t.add("origin", sess.Origin)
	t.add("established", sess.EstablishedAt.In(time.Local).Format(time.DateTime))
	return render(w, t.markdown())
}

// mask keeps the last four characters of a key.
func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", 8) + s[len(s)-4:]
}
