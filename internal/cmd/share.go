package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/uplink/internal/provider"
)

var shareCmd = &cobra.Command{
	Use:   "share <file>",
	Short: "Share a file through a provider",
	Long: `Share a file. Social providers publish it as a post; cloud providers
store it and return a share link.

Examples:
  uplink share clip.mp4 --provider social --title "Launch day" --tag launch --tag demo
  uplink share notes.pdf --private`,
	Args: cobra.ExactArgs(1),
	RunE: runShare,
}

var (
	shareProvider    string
	shareTitle       string
	shareDescription string
	shareTags        []string
	sharePrivate     bool
)

func init() {
	rootCmd.AddCommand(shareCmd)

	shareCmd.Flags().StringVarP(&shareProvider, "provider", "p", "", "Provider id (default: routed by file name)")
	shareCmd.Flags().StringVar(&shareTitle, "title", "", "Title of the shared item")
	shareCmd.Flags().StringVar(&shareDescription, "description", "", "Description of the shared item")
	shareCmd.Flags().StringSliceVar(&shareTags, "tag", nil, "Tag (repeatable)")
	shareCmd.Flags().BoolVar(&sharePrivate, "private", false, "Share privately")
}

func runShare(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	providerID, err := a.resolveProvider(shareProvider, args[0])
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	return a.runSubmissions(ctx, []submission{{
		path:       args[0],
		providerID: providerID,
		kind:       provider.KindShare,
		opts: provider.ShareOptions{
			Title:       shareTitle,
			Description: shareDescription,
			Tags:        shareTags,
			IsPrivate:   sharePrivate,
		},
	}})
}
