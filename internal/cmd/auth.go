package cmd

import (
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage provider sign-in",
}

var authLoginCmd = &cobra.Command{
	Use:   "login <provider>",
	Short: "Sign in to a provider",
	Long: `Sign in to a provider ahead of time. The authorization page is opened
in the browser (or printed when auth.open_browser is false) and the
resulting session is stored for later commands.

Uploads sign in on demand, so this is only needed to avoid the prompt
during a later upload.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout <provider>",
	Short: "Forget a provider's stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthLogout,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.orch.Adapter(args[0]); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	sess, err := a.orch.Login(ctx, args[0])
	if err != nil {
		return err
	}
	if sess.Anonymous() {
		a.render.printf("%s does not require sign-in\n", args[0])
		return nil
	}
	a.render.printf("Signed in to %s: %s\n", args[0], sessionState(sess.Expiry))
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orch.Logout(cmd.Context(), args[0]); err != nil {
		return err
	}
	a.render.printf("Signed out of %s\n", args[0])
	return nil
}
