package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"okrline/internal/app"
	"okrline/internal/config"
	"okrline/internal/migrate"
	"okrline/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			rt, err := app.Open(ctx, runtimeOptions(true))
			if err != nil {
				return err
			}
			defer rt.Close()

			addr := firstNonEmpty(viper.GetString("addr"), rt.Config.Server.Addr)
			basePath := firstNonEmpty(viper.GetString("base-path"), rt.Config.Server.BasePath)
			authCfg := server.AuthConfig{
				JWTSecret:       viper.GetString("jwt-secret"),
				Issuer:          rt.Config.Server.JWT.Issuer,
				Audience:        rt.Config.Server.JWT.Audience,
				AllowUserHeader: viper.GetBool("allow-user-header"),
				AllowDevLogin:   viper.GetBool("dev-login"),
				Logger:          rt.Log,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowUserHeader {
				return fmt.Errorf("OKRLINE_JWT_SECRET is required for bearer auth")
			}
			if authCfg.AllowDevLogin && authCfg.JWTSecret == "" {
				return fmt.Errorf("--dev-login needs OKRLINE_JWT_SECRET")
			}
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Log:      rt.Log,
				Metrics:  rt.Metrics,
			})
			if err != nil {
				return err
			}

			fwd := server.NewLogForwarder(rt.Engine, rt.Config.Hooks, rt.Log)
			go fwd.Run(ctx)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			rt.Log.Info("serving okrline API",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.Int("hooks", len(rt.Config.Hooks)),
				zap.Bool("user_header", authCfg.AllowUserHeader),
				zap.Bool("dev_login", authCfg.AllowDevLogin),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (default server.addr)")
	cmd.Flags().String("base-path", "", "API base path (default server.base_path)")
	cmd.Flags().Bool("allow-user-header", false, "trust X-User-Id without a token (local use only)")
	cmd.Flags().Bool("dev-login", false, "expose POST /auth/dev/login")
	for _, name := range []string{"addr", "base-path", "allow-user-header", "dev-login"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Open(cmd.Context(), runtimeOptions(false))
			if err != nil {
				return err
			}
			defer rt.Close()
			v, err := migrate.Version(rt.DB)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"schema_version": v})
			}
			fmt.Printf("schema version %d\n", v)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage okrline.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default okrline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func loadCLIConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
