package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"okrline/internal/app"
	"okrline/internal/domain"
	"okrline/internal/engine"
	"okrline/internal/repo"
)

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage user profiles"}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userListCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var in engine.UserInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user profile",
		Long:  "Without an acting user the profile is registered directly; with --as the actor must be an admin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				var (
					u   domain.User
					err error
				)
				if strings.TrimSpace(viper.GetString("as")) == "" {
					u, err = rt.Engine.RegisterUser(ctx, in)
				} else {
					u, err = rt.Engine.CreateUser(ctx, actor, in)
				}
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "user id (default: generated)")
	cmd.Flags().StringVar(&in.Username, "username", "", "username")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&in.Position, "position", "", "position")
	cmd.Flags().StringVar(&in.Role, "role", domain.RoleEmployee, "admin, manager or employee")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List user profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				users, err := rt.Engine.ListUsers(ctx, actor)
				if err != nil {
					return err
				}
				return printUsers(users)
			})
		},
	}
}

func printUsers(users []domain.User) error {
	var rows []table.Row
	for _, u := range users {
		rows = append(rows, table.Row{u.ID, u.Username, u.Email, u.Role})
	}
	return printTable(users, table.Row{"ID", "Username", "Email", "Role"}, rows)
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectTreeCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var in engine.ProjectInput
	var end string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project; the acting user becomes its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			in.EndDate = optionalString(cmd, "end-date", end)
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				if err := requireActor(actor); err != nil {
					return err
				}
				p, err := rt.Engine.CreateProject(ctx, actor, in)
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Type, "type", domain.ProjectTypeStandard, "mission or project")
	cmd.Flags().StringVar(&in.Color, "color", "", "#RRGGBB")
	cmd.Flags().StringVar(&in.StartDate, "start-date", "", "YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&end, "end-date", "", "YYYY-MM-DD")
	return cmd
}

func projectListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				items, err := rt.Engine.ListProjects(ctx, actor, repo.Page{Limit: rt.Engine.PageLimit(limit)})
				if err != nil {
					return err
				}
				return printProjects(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func printProjects(items []domain.Project) error {
	var rows []table.Row
	for _, p := range items {
		rows = append(rows, table.Row{p.ID, p.Name, p.Type, p.StartDate, deref(p.EndDate), p.CreatedBy})
	}
	return printTable(items, table.Row{"ID", "Name", "Type", "Start", "End", "Created by"}, rows)
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project and its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				p, err := rt.Engine.GetProject(ctx, actor, args[0])
				if err != nil {
					return err
				}
				members, err := rt.Engine.ListMembers(ctx, actor, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "members": members})
				}
				fmt.Printf("Project: %s (%s)\n", p.Name, p.ID)
				fmt.Printf("Type:    %s\n", p.Type)
				fmt.Printf("Dates:   %s .. %s\n", p.StartDate, deref(p.EndDate))
				if p.Description != "" {
					fmt.Printf("About:   %s\n", p.Description)
				}
				return printMembers(members)
			})
		},
	}
}

func projectTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <project-id>",
		Short: "Show the planning hierarchy with progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				tree, err := rt.Engine.Tree(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tree)
				}
				printTree(tree)
				return nil
			})
		},
	}
}

type treeLine struct {
	label    string
	children []treeLine
}

func printTree(tree engine.ProjectTree) {
	root := treeLine{label: fmt.Sprintf("%s [%s]", tree.Project.Name, tree.Project.Type)}
	for _, ep := range tree.Epics {
		line := treeLine{label: "epic: " + ep.Title}
		for _, o := range ep.Objectives {
			line.children = append(line.children, objectiveLine(o))
		}
		root.children = append(root.children, line)
	}
	for _, o := range tree.Objectives {
		root.children = append(root.children, objectiveLine(o))
	}
	fmt.Println(root.label)
	for i, c := range root.children {
		printTreeLine(c, "", i == len(root.children)-1)
	}
}

func objectiveLine(o engine.ObjectiveNode) treeLine {
	line := treeLine{label: "objective: " + o.Title}
	for _, k := range o.OKRs {
		kr := treeLine{label: fmt.Sprintf("okr: %s (%d%%)", k.KeyResult, k.Progress)}
		for _, a := range k.Activities {
			kr.children = append(kr.children, treeLine{label: fmt.Sprintf("activity: %s (%d%%)", a.Name, a.Progress)})
		}
		line.children = append(line.children, kr)
	}
	return line
}

func printTreeLine(l treeLine, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s\n", prefix, connector, l.label)
	for i, c := range l.children {
		printTreeLine(c, newPrefix, i == len(l.children)-1)
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				res, err := rt.Engine.DeleteProject(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printDeleteResult(res)
			})
		},
	}
}

var deleteKinds = []string{
	domain.KindProject, domain.KindMembership, domain.KindEpic, domain.KindObjective,
	domain.KindOKR, domain.KindActivity, domain.KindTask, domain.KindComment,
}

func printDeleteResult(res engine.DeleteResult) error {
	var rows []table.Row
	for _, kind := range deleteKinds {
		if n := res.Counts[kind]; n > 0 {
			rows = append(rows, table.Row{kind, n})
		}
	}
	rows = append(rows, table.Row{"total", res.Total()})
	return printTable(res, table.Row{"Kind", "Deleted"}, rows)
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage project members"}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberRemoveCmd())
	m.AddCommand(memberListCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "add <project-id> <user-id>",
		Short: "Add a member, or change the role of an existing one with --update",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, _ := cmd.Flags().GetBool("update")
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				var (
					m   domain.Membership
					err error
				)
				if update {
					m, err = rt.Engine.SetMemberRole(ctx, actor, args[0], args[1], role)
				} else {
					m, err = rt.Engine.AddMember(ctx, actor, args[0], args[1], role)
				}
				if err != nil {
					return err
				}
				return printMembers([]domain.Membership{m})
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", domain.MemberMember, "owner, manager or member")
	cmd.Flags().Bool("update", false, "change the role of an existing member")
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <project-id> <user-id>",
		Short: "Remove a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				if err := rt.Engine.RemoveMember(ctx, actor, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("removed %s from %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List project members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, actor string) error {
				members, err := rt.Engine.ListMembers(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printMembers(members)
			})
		},
	}
}

func printMembers(members []domain.Membership) error {
	var rows []table.Row
	for _, m := range members {
		rows = append(rows, table.Row{m.UserID, m.Role, m.JoinedAt})
	}
	return printTable(members, table.Row{"User", "Role", "Joined"}, rows)
}
