package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/tradedesk/credentials"
	"github.com/jmcleod/tradedesk/totp"
)

var (
	totpSecret  string
	totpAccount string
)

var totpCmd = &cobra.Command{
	Use:   "totp",
	Short: "One-time code helpers",
}

var totpGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print the current one-time code for the configured TOTP secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := sharedSecret()
		if err != nil {
			return err
		}
		now := time.Now()
		code, err := totp.Generate(secret, now)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (valid for %s)\n", code, totp.Remaining(now).Round(time.Second))
		return nil
	},
}

var totpVerifyCmd = &cobra.Command{
	Use:   "verify CODE",
	Short: "Check a one-time code against the configured TOTP secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := sharedSecret()
		if err != nil {
			return err
		}
		if !totp.Verify(secret, args[0], time.Now()) {
			return errors.New("code does not match")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Code is valid.")
		return nil
	},
}

var totpNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a TOTP secret and its provisioning URI",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := totp.NewSecret()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "TOTP_SECRET=%s\n", secret)
		fmt.Fprintln(out, totp.ProvisioningURI(secret, "tradedesk", totpAccount))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(totpCmd)
	totpCmd.AddCommand(totpGenerateCmd, totpVerifyCmd, totpNewCmd)
	totpCmd.PersistentFlags().StringVar(&totpSecret, "secret", "", "Base32 secret (default: resolved like the login secret)")
	totpNewCmd.Flags().StringVar(&totpAccount, "account", "trader", "Account label for the provisioning URI")
}

// sharedSecret prefers --secret, then the credential resolver.
func sharedSecret() (string, error) {
	if s := strings.TrimSpace(totpSecret); s != "" {
		return s, nil
	}
	var secret string
	err := withApp(func(a *app) error {
		creds, err := a.resolver.Resolve()
		if err != nil {
			return err
		}
		defer creds.Destroy()
		s, ok, err := creds.SharedSecret()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no TOTP secret configured: %w", credentials.ErrCredentialsMissing)
		}
		secret = s
		return nil
	})
	return secret, err
}
