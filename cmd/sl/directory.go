package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shiftline/internal/app"
	"shiftline/internal/domain"
	"shiftline/internal/repo"
)

// Directory commands are local operator commands; they bootstrap the
// guards that lifecycle commands then act as.

func guardCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "guard", Short: "Manage guards"}
	cmd.AddCommand(guardUpsertCmd())
	cmd.AddCommand(guardListCmd())
	cmd.AddCommand(guardShowCmd())
	return cmd
}

func guardUpsertCmd() *cobra.Command {
	var (
		g        domain.Guard
		role     string
		objectID int64
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or replace a guard",
		RunE: func(cmd *cobra.Command, args []string) error {
			g.Role = domain.Role(strings.ToLower(role))
			g.Active = !inactive
			if objectID != 0 {
				g.ObjectID = &objectID
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Repo.UpsertGuard(ctx, g, domain.FormatTime(time.Now()))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().Int64Var(&g.ID, "id", 0, "guard id (the chat user id)")
	cmd.Flags().StringVar(&g.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&g.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleGuard), "guard, senior, controller or admin")
	cmd.Flags().Int64Var(&objectID, "object", 0, "assigned object id")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "mark the guard inactive")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func guardListCmd() *cobra.Command {
	var (
		f        repo.GuardFilters
		role     string
		objectID int64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List guards",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Role = domain.Role(role)
			if objectID != 0 {
				f.ObjectID = &objectID
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				guards, err := a.Repo.ListGuards(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(guards)
				}
				tw := newTable("ID", "Name", "Role", "Active", "Object")
				for _, g := range guards {
					obj := ""
					if g.ObjectID != nil {
						obj = fmt.Sprint(*g.ObjectID)
					}
					tw.AppendRow(table.Row{g.ID, g.DisplayName(), g.Role, g.Active, obj})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	cmd.Flags().Int64Var(&objectID, "object", 0, "object filter")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active-only", false, "only active guards")
	return cmd
}

func guardShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a guard and their active shift",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := a.Principal(ctx, id)
				if err != nil {
					return err
				}
				s, ok, err := a.Engine.ActiveShiftFor(ctx, id)
				if err != nil {
					return err
				}
				out := map[string]any{"guard": g, "active_shift": nil}
				if ok {
					out["active_shift"] = s
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func objectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "object", Short: "Manage security objects"}
	cmd.AddCommand(objectUpsertCmd())
	cmd.AddCommand(objectListCmd())
	return cmd
}

func objectUpsertCmd() *cobra.Command {
	var (
		o        domain.SecurityObject
		ptype    string
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or replace an object",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.ProtectionType = domain.ProtectionType(strings.ToUpper(ptype))
			o.Active = !inactive
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Repo.UpsertObject(ctx, o, domain.FormatTime(time.Now()))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().Int64Var(&o.ID, "id", 0, "object id")
	cmd.Flags().StringVar(&o.Name, "name", "", "object name")
	cmd.Flags().StringVar(&ptype, "type", string(domain.ProtectionShift), "SHIFT or TEMPORARY_SINGLE")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "mark the object inactive")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func objectListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				objs, err := a.Repo.ListObjects(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(objs)
				}
				tw := newTable("ID", "Name", "Protection", "Active")
				for _, o := range objs {
					tw.AppendRow(table.Row{o.ID, o.Name, o.ProtectionType, o.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "only active objects")
	return cmd
}
