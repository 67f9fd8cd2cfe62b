package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/uplink/internal/provider"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files to a cloud-storage provider",
	Long: `Upload one or more files. Each file becomes its own task; tasks run
concurrently and are reported as they start and finish.

Without --provider, each file is routed by the routing rules in the config
file, falling back to routing.default.

Examples:
  uplink upload shot.png
  uplink upload --provider drive --folder screenshots *.png
  uplink upload report.pdf --name q3.pdf --public --meta project=atlas`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

var (
	uploadProvider string
	uploadFolder   string
	uploadName     string
	uploadPublic   bool
	uploadMeta     map[string]string
)

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVarP(&uploadProvider, "provider", "p", "", "Provider id (default: routed by file name)")
	uploadCmd.Flags().StringVar(&uploadFolder, "folder", "", "Destination folder")
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "Remote file name (single file only)")
	uploadCmd.Flags().BoolVar(&uploadPublic, "public", false, "Make the uploaded file public")
	uploadCmd.Flags().StringToStringVar(&uploadMeta, "meta", nil, "Metadata key=value pairs")
}

func runUpload(cmd *cobra.Command, args []string) error {
	if uploadName != "" && len(args) > 1 {
		return fmt.Errorf("--name can only be used with a single file")
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	subs := make([]submission, 0, len(args))
	for _, path := range args {
		providerID, err := a.resolveProvider(uploadProvider, path)
		if err != nil {
			return err
		}
		subs = append(subs, submission{
			path:       path,
			providerID: providerID,
			kind:       provider.KindUpload,
			opts: provider.UploadOptions{
				FileName: uploadName,
				Folder:   uploadFolder,
				IsPublic: uploadPublic,
				Metadata: uploadMeta,
			},
		})
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	return a.runSubmissions(ctx, subs)
}
