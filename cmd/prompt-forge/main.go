// ABOUTME: Entry point for the prompt-forge server and its operator commands
// ABOUTME: serve runs the gateway; sweep, health, token and version are one-shot helpers

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/prompt-forge/internal/auth"
	"github.com/2389/prompt-forge/internal/config"
	"github.com/2389/prompt-forge/internal/gateway"
	"github.com/2389/prompt-forge/internal/subscription"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
                              _          __
  _ __  _ __ ___  _ __ ___  _ __ | |_       / _| ___  _ __ __ _  ___
 | '_ \| '__/ _ \| '_ ' _ \| '_ \| __|_____| |_ / _ \| '__/ _' |/ _ \
 | |_) | | | (_) | | | | | | |_) | ||_____|  _| (_) | | | (_| |  __/
 | .__/|_|  \___/|_| |_| |_| .__/ \__|    |_|  \___/|_|  \__, |\___|
 |_|                       |_|                           |___/
`

var configPath string

var rootCmd = &cobra.Command{
	Use:           "prompt-forge",
	Short:         "Versioned prompt registry with agent subscriptions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $PROMPTFORGE_CONFIG or ~/.config/prompt-forge/config.yaml)")

	tokenCmd.Flags().String("subject", "", "principal the token identifies (required)")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(serveCmd, sweepCmd, healthCmd, tokenCmd, versionCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, falling back to defaults when the
// default location does not exist. An explicit --config must exist.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) && !explicit && os.Getenv("PROMPTFORGE_CONFIG") == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, "", fmt.Errorf("validating default config: %w", err)
		}
		return cfg, "(defaults)", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prompt-forge server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan)
		gray := color.New(color.FgHiBlack)
		green := color.New(color.FgGreen)
		yellow := color.New(color.FgYellow)

		cyan.Print(banner)
		gray.Printf("    version: %s\n\n", version)

		green.Print("    ▶ ")
		fmt.Printf("Config:    %s\n", path)
		green.Print("    ▶ ")
		fmt.Printf("Database:  %s\n", describeDatabase(cfg.Database))
		if cfg.Tailscale.Enabled {
			green.Print("    ▶ ")
			fmt.Printf("Tailscale: ")
			cyan.Print(cfg.Tailscale.Hostname)
			if cfg.Tailscale.Funnel {
				yellow.Print(" [funnel]")
			}
			if cfg.Tailscale.Ephemeral {
				gray.Print(" (ephemeral)")
			}
			fmt.Println()
		} else {
			green.Print("    ▶ ")
			fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
		}
		if cfg.Kafka.Enabled {
			green.Print("    ▶ ")
			fmt.Printf("Kafka:     %s\n", strings.Join(cfg.Kafka.Brokers, ","))
		}
		fmt.Println()

		logger := setupLogger(cfg.Logging, os.Stdout)
		logger.Info("starting prompt-forge",
			"version", version,
			"config", path,
			"http_addr", cfg.Server.HTTPAddr,
			"retention", cfg.Subscriptions.Retention,
			"sweep_interval", cfg.Subscriptions.SweepInterval,
		)

		gw, err := gateway.New(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("creating gateway: %w", err)
		}
		return gw.Run(cmd.Context())
	},
}

func describeDatabase(db config.DatabaseConfig) string {
	if db.Driver == config.DriverPostgres {
		return "postgres"
	}
	return "sqlite " + db.Path
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove subscriptions not pulled within the retention window, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Logging, os.Stderr)

		s, err := gateway.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		sweeper := subscription.NewSweeper(s, logger, subscription.SweeperOptions{
			Retention: cfg.Subscriptions.Retention,
			Timeout:   cfg.Subscriptions.SweepTimeout,
		})
		deleted, err := sweeper.RunOnce(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("removed %d subscription(s) idle for more than %s\n", deleted, cfg.Subscriptions.Retention)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the readiness of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		addr := cfg.Server.HTTPAddr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		url := fmt.Sprintf("http://%s/health/ready", addr)

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		color.Green("healthy")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a JWT for prompt management requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is not configured")
		}

		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return err
		}
		token, err := verifier.Generate(subject, ttl)
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}

		fmt.Println(token)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("prompt-forge %s\n", version)
	},
}
