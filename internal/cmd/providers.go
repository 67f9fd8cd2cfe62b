package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers",
	Long: `List the providers defined in the config file together with their
sign-in state. Providers without an oauth section never need to sign in.`,
	Args: cobra.NoArgs,
	RunE: runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ids := a.cfg.ProviderIDs()
	if len(ids) == 0 {
		a.render.printf("No providers configured. Run 'uplink config init' to create a config file.\n")
		return nil
	}

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		pc := a.cfg.Providers[id]
		variant := pc.Variant
		if adapter, err := a.orch.Adapter(id); err == nil {
			variant = string(adapter.Variant())
		}
		rows = append(rows, []string{id, pc.Type, variant, a.authState(cmd.Context(), id)})
	}
	a.render.printf("%s\n", a.providersTable(rows))

	if d := a.cfg.Routing.Default; d != "" {
		a.render.printf("Default provider: %s\n", d)
	}
	return nil
}

func (a *app) providersTable(rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PROVIDER", "TYPE", "VARIANT", "AUTH").
		Rows(rows...)
	if a.render.styled {
		t = t.StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return a.render.bold.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	} else {
		t = t.StyleFunc(func(_, _ int) lipgloss.Style {
			return lipgloss.NewStyle().Padding(0, 1)
		})
	}
	return t.String()
}

// authState describes the provider's session without starting a handshake.
func (a *app) authState(ctx context.Context, id string) string {
	if _, ok := a.orch.Auth().Flow(id); !ok {
		return "not required"
	}
	if sess, ok := a.orch.Auth().Cached(id); ok {
		return sessionState(sess.Expiry)
	}
	if a.store != nil {
		if sess, err := a.store.Load(ctx, id); err == nil {
			return sessionState(sess.Expiry)
		}
	}
	return "signed out"
}

func sessionState(expiry time.Time) string {
	if expiry.IsZero() {
		return "signed in"
	}
	if time.Until(expiry) <= 0 {
		return "expired (refresh on next use)"
	}
	return fmt.Sprintf("signed in (expires %s)", expiry.Local().Format("2006-01-02 15:04"))
}
