package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"okrline/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "okl",
	Short: "okrline CLI",
	Long: `okrline tracks projects, objectives and key results.
Core concepts:
- Project: a "mission" holds epics, a plain "project" holds objectives directly.
- Objective: a goal under an epic or a project.
- OKR: a key result whose progress is the share of its activities with a completed task.
- Activity: a piece of work under an OKR; its progress is the share of completed tasks.
- Task: backlog, in_progress or completed (0, 50 or 100 percent).
- Members: owners and managers shape the plan, members work on tasks.
- Log: audit trail of every change, view it with 'okl log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OKRLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/okrline.yml)")
	flags.String("db", "", "database file (default <workspace>/.okrline/okrline.db)")
	flags.Bool("json", false, "output JSON")
	flags.String("as", "", "acting user id (default: bootstrap admin)")
	flags.String("log-level", "", "override log.level")
	for _, name := range []string{"workspace", "config", "db", "json", "as", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(okrCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
}

func runtimeOptions(metrics bool) app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		DBPath:     viper.GetString("db"),
		LogLevel:   viper.GetString("log-level"),
		Metrics:    metrics,
	}
}

// withRuntime opens the workspace and resolves the acting user.
func withRuntime(ctx context.Context, fn func(ctx context.Context, rt *app.Runtime, actor string) error) error {
	rt, err := app.Open(ctx, runtimeOptions(false))
	if err != nil {
		return err
	}
	defer rt.Close()
	actor := strings.TrimSpace(viper.GetString("as"))
	if actor == "" {
		actor = rt.Config.Bootstrap.Admin.ID
	}
	return fn(ctx, rt, actor)
}

func requireActor(actor string) error {
	if actor == "" {
		return fmt.Errorf("no acting user: pass --as, set OKRLINE_AS or configure bootstrap.admin.id")
	}
	return nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// printTable renders rows unless --json is set, in which case v is printed.
func printTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalString(cmd *cobra.Command, flag, v string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &v
}
