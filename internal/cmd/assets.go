package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/uplink/internal/provider"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Browse files already stored on a provider",
	Long: `Browse files already stored on a provider. Only providers that
support listing, deleting or resolving download URLs accept these commands.`,
}

var assetsListCmd = &cobra.Command{
	Use:   "list <provider>",
	Short: "List stored files",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetsList,
}

var assetsDeleteCmd = &cobra.Command{
	Use:   "delete <provider> <asset-id>",
	Short: "Delete a stored file",
	Args:  cobra.ExactArgs(2),
	RunE:  runAssetsDelete,
}

var assetsURLCmd = &cobra.Command{
	Use:   "url <provider> <asset-id>",
	Short: "Print a download URL for a stored file",
	Args:  cobra.ExactArgs(2),
	RunE:  runAssetsURL,
}

var assetsFolder string

func init() {
	rootCmd.AddCommand(assetsCmd)
	assetsCmd.AddCommand(assetsListCmd)
	assetsCmd.AddCommand(assetsDeleteCmd)
	assetsCmd.AddCommand(assetsURLCmd)

	assetsListCmd.Flags().StringVar(&assetsFolder, "folder", "", "Only list files in this folder")
}

func runAssetsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	assets, err := a.orch.ListAssets(ctx, args[0], assetsFolder)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		a.render.printf("No files found\n")
		return nil
	}
	a.render.printf("%s\n", assetsTable(assets))
	return nil
}

func assetsTable(assets []provider.Asset) string {
	rows := make([][]string, 0, len(assets))
	for _, as := range assets {
		rows = append(rows, []string{
			as.ID,
			formatSize(as.Size),
			as.ModifiedAt.Local().Format("2006-01-02 15:04"),
			as.URL,
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "SIZE", "MODIFIED", "URL").
		Rows(rows...).
		StyleFunc(func(_, _ int) lipgloss.Style {
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		String()
}

func runAssetsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	deleted, err := a.orch.DeleteAsset(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%s: no such file on %s", args[1], args[0])
	}
	a.render.printf("Deleted %s\n", args[1])
	return nil
}

func runAssetsURL(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	url, err := a.orch.DownloadURL(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	a.render.printf("%s\n", url)
	return nil
}

// formatSize renders a byte count with a binary unit suffix.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
