package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/uplink/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create the uplink configuration",
	Long: `View or create the uplink configuration.

Without arguments, displays the current configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/uplink/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "# Config file: (none - using defaults)\n")
	}
	return writeConfigYAML(out, cfg)
}

// writeConfigYAML renders cfg as YAML with OAuth client secrets masked.
func writeConfigYAML(w io.Writer, cfg *config.Config) error {
	shown := *cfg
	shown.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
	for id, pc := range cfg.Providers {
		if pc.OAuth != nil && pc.OAuth.ClientSecret != "" {
			oauth := *pc.OAuth
			oauth.ClientSecret = "********"
			pc.OAuth = &oauth
		}
		shown.Providers[id] = pc
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&shown); err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	return enc.Close()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to add your providers.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/uplink/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: UPLINK_* (e.g., UPLINK_ORCHESTRATOR_MAX_CONCURRENT)")
	return nil
}

const configTemplate = `# Uplink Configuration

# Debug logging (view with 'uplink logs')
logging:
  enabled: true
  # debug, info, warn or error
  level: info
  # Directory holding uplink.log (default: ~/.config/uplink/logs)
  dir: ""
  max_size_mb: 10
  max_backups: 3
  compress: false

orchestrator:
  # Maximum simultaneous uploads; 0 means unbounded
  max_concurrent: 0
  # Abort in-flight uploads when their task is cancelled
  abort_on_cancel: false
  # Per-upload timeout, e.g. 5m; 0 means none
  perform_timeout: 0s

auth:
  poll_interval: 1s
  handshake_timeout: 10m
  # Refresh tokens this long before they expire
  refresh_leeway: 1m
  session_cache_size: 64
  # SQLite file sessions persist to; "-" keeps them in memory only
  session_db: ""
  # Open the system browser for sign-in; otherwise the URL is printed
  open_browser: true

metrics:
  # Serve Prometheus metrics during 'uplink watch', e.g. 127.0.0.1:9464
  listen: ""

providers:
  # Files copied into a local directory, served from base_url
  local:
    type: localfs
    root: ~/Uploads
    base_url: file:///home/me/Uploads

  # Multipart POST to an HTTP endpoint, signed in through OAuth
  # media:
  #   type: webhook
  #   variant: social
  #   endpoint: https://media.example.com/upload
  #   field_name: file
  #   require_token: true
  #   oauth:
  #     client_id: your-client-id
  #     auth_url: https://media.example.com/oauth/authorize
  #     token_url: https://media.example.com/oauth/token
  #     redirect_url: http://127.0.0.1:8765/callback
  #     scopes: [upload]
  #     pkce: true

routing:
  # Provider used when no rule matches and --provider is not given
  default: local
  rules:
    # - pattern: "*.{png,jpg,gif}"
    #   provider: media
`
