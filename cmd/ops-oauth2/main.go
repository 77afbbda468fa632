package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otwarte/ops-oauth2/internal"
	"github.com/otwarte/ops-oauth2/internal/config"
	"github.com/otwarte/ops-oauth2/internal/crypto"
	"github.com/otwarte/ops-oauth2/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	secret, err := crypto.GenerateSecureToken()
	if err != nil {
		return err
	}

	defaultConfig := map[string]any{
		"running_environment":     "production",
		"addr":                    ":3000",
		"oauth_server_url":        "https://auth.yourcompany.com",
		"oauth_shared_secret":     secret,
		"default_redirect_page":   "https://intranet.yourcompany.com/",
		"cookie_name_permissions": "OKPermissions",
		"cookie_name_signature":   "OKSignature",
		"cookie_name_redirect":    "OKRedirect",
		"cookie_domain":           ".yourcompany.com",
		"cookie_ttl":              86400,
		"whitelisted_urls": map[string][]string{
			"/healthz": {"GET"},
		},
		"google_oauth_client_id":     "change-me.apps.googleusercontent.com",
		"google_oauth_client_secret": "change-me",
		"google_oauth_redirect_url":  "https://auth.yourcompany.com/oauth2/google/authorize",
		"google_whitelisted_domains": []string{"yourcompany.com"},
		"google_whitelisted_emails":  []string{},
	}

	data, err := yaml.Marshal(defaultConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(w io.Writer, path string) error {
	fmt.Fprintf(w, "Validating: %s\n", path)

	_, err := config.Load(path)

	var invalid *config.ValidationError
	switch {
	case errors.As(err, &invalid):
		fmt.Fprintf(w, "\nErrors (%d):\n", len(invalid.Problems))
		for _, problem := range invalid.Problems {
			fmt.Fprintf(w, "  - %s\n", problem)
		}
		fmt.Fprintln(w, "\nResult: FAIL")
		return fmt.Errorf("validation failed: %d error(s)", len(invalid.Problems))
	case err != nil:
		fmt.Fprintf(w, "\nResult: FAIL (%v)\n", err)
		return err
	}

	fmt.Fprintln(w, "\nResult: PASS")
	return nil
}

func serve(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	gateway, err := internal.NewGateway(cfg)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	return gateway.Run(ctx)
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		envFiles   []string
	)

	root := &cobra.Command{
		Use:           "ops-oauth2",
		Short:         "Authentication gateway for nginx auth_request",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, file := range envFiles {
				err := godotenv.Load(file)
				if err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("loading %s: %w", file, err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file (JSON or YAML)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.OutOrStdout(), configPath)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config-init <path>",
		Short: "Generate an example config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := generateDefaultConfig(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated default config at: %s\n", args[0])
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), BuildVersion)
		},
	})

	return root
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		log.LogError("%v", err)
		os.Exit(1)
	}
}
