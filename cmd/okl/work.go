package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"okrline/internal/app"
	"okrline/internal/domain"
	"okrline/internal/engine"
	"okrline/internal/server"
)

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Work with tasks"}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskStatusCmd())
	return t
}

func taskListCmd() *cobra.Command {
	var q engine.TaskQuery
	var archived string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if archived != "" {
				v, err := strconv.ParseBool(archived)
				if err != nil {
					return fmt.Errorf("--archived must be true or false")
				}
				q.Archived = &v
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				q.Page.Limit = rt.Engine.PageLimit(limit)
				tasks, err := rt.Engine.ListTasks(ctx, actor, q)
				if err != nil {
					return err
				}
				var rows []table.Row
				for _, t := range tasks {
					rows = append(rows, table.Row{t.ID, t.Title, t.Status, t.CompletionPercentage, deref(t.AssigneeID), deref(t.ParentTaskID)})
				}
				return printTable(tasks, table.Row{"ID", "Title", "Status", "%", "Assignee", "Parent"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&q.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&q.ActivityID, "activity", "", "activity id")
	cmd.Flags().StringVar(&q.AssigneeID, "assignee", "", "assignee user id")
	cmd.Flags().StringVar(&q.ParentTaskID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&q.Status, "status", "", "backlog, in_progress or completed")
	cmd.Flags().StringVar(&archived, "archived", "", "true or false")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Move a task to backlog, in_progress or completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := args[1]
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				t, err := rt.Engine.UpdateTask(ctx, actor, args[0], engine.TaskPatch{Status: &status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s: %s (%d%%)\n", t.Title, t.Status, t.CompletionPercentage)
				return nil
			})
		},
	}
}

func okrCmd() *cobra.Command {
	o := &cobra.Command{Use: "okr", Short: "Inspect key results"}
	o.AddCommand(okrProgressCmd())
	return o
}

func okrProgressCmd() *cobra.Command {
	var recompute bool
	cmd := &cobra.Command{
		Use:   "progress <okr-id>",
		Short: "Show stored progress with the per-activity breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				if recompute {
					if _, err := rt.Engine.RecomputeOKR(ctx, actor, args[0]); err != nil {
						return err
					}
				}
				p, acts, err := rt.Engine.OKRBreakdown(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"progress": p, "activities": acts})
				}
				fmt.Printf("OKR %s: %d%% (current value %d)\n", p.OKRID, p.Progress, p.CurrentValue)
				var rows []table.Row
				for _, a := range acts {
					rows = append(rows, table.Row{a.ActivityID, a.CompletedTasks, a.TotalTasks, a.Progress})
				}
				return printTable(acts, table.Row{"Activity", "Completed", "Tasks", "%"}, rows)
			})
		},
	}
	cmd.Flags().BoolVar(&recompute, "recompute", false, "recompute and store before showing")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Read the audit log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var q engine.LogQuery
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				entries, err := rt.Engine.ListLogs(ctx, actor, q)
				if err != nil {
					return err
				}
				return printLogs(entries)
			})
		},
	}
	cmd.Flags().IntVar(&q.Limit, "n", 20, "number of entries")
	cmd.Flags().StringVar(&q.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&q.Type, "type", "", "log type, e.g. task.updated")
	cmd.Flags().StringVar(&q.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&q.EntityID, "entity-id", "", "entity id")
	return cmd
}

func printLogs(entries []domain.Log) error {
	var rows []table.Row
	for _, l := range entries {
		rows = append(rows, table.Row{l.ID, l.CreatedAt, l.Type, l.EntityID, l.UserID, l.Text})
	}
	return printTable(entries, table.Row{"ID", "At", "Type", "Entity", "User", "Text"}, rows)
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Bearer tokens (development)"}
	t.AddCommand(tokenMintCmd())
	return t
}

func tokenMintCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mint <user-id>",
		Short: "Mint an HS256 token signed with OKRLINE_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig()
			if err != nil {
				return err
			}
			token, err := server.MintToken(server.AuthConfig{
				JWTSecret: viper.GetString("jwt-secret"),
				Issuer:    cfg.Server.JWT.Issuer,
				Audience:  cfg.Server.JWT.Audience,
			}, args[0], ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
