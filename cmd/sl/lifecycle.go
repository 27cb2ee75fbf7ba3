package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shiftline/internal/app"
	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/engine/auth"
	"shiftline/internal/repo"
)

func shiftCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "shift", Short: "Start, end and inspect shifts"}
	cmd.AddCommand(shiftStartCmd())
	cmd.AddCommand(shiftEndCmd())
	cmd.AddCommand(shiftShowCmd())
	cmd.AddCommand(shiftListCmd())
	cmd.AddCommand(shiftSummaryCmd())
	cmd.AddCommand(shiftDeleteCmd())
	cmd.AddCommand(shiftOverrideCmd())
	return cmd
}

func shiftStartCmd() *cobra.Command {
	var guardID int64
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a shift on the guard's assigned object",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := actor(ctx, a, auth.PermShiftStart)
				if err != nil {
					return err
				}
				target := g.ID
				if guardID != 0 && guardID != g.ID {
					if err := a.Auth.Require(g, auth.PermShiftOverride); err != nil {
						return err
					}
					target = guardID
				}
				s, err := a.Engine.StartShift(ctx, target)
				if err != nil {
					return err
				}
				return printShift(s)
			})
		},
	}
	cmd.Flags().Int64Var(&guardID, "guard", 0, "start for another guard (needs shift.override)")
	return cmd
}

func shiftEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <shift-id>",
		Short: "End a shift on a TEMPORARY_SINGLE object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := actor(ctx, a, auth.PermShiftEnd)
				if err != nil {
					return err
				}
				s, err := a.Engine.GetShift(ctx, id)
				if err != nil {
					return err
				}
				if s.GuardID != g.ID {
					if err := a.Auth.Require(g, auth.PermShiftEndAny); err != nil {
						return err
					}
				}
				s, err = a.Engine.EndShift(ctx, id)
				if err != nil {
					return err
				}
				return printShift(s)
			})
		},
	}
}

func shiftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <shift-id>",
		Short: "Show a shift",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.GetShift(ctx, id)
				if err != nil {
					return err
				}
				return printShift(s)
			})
		},
	}
}

func shiftListCmd() *cobra.Command {
	var (
		f      repo.ShiftFilters
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shifts",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.ShiftStatus(strings.ToUpper(status))
			if f.Status != "" && !f.Status.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				shifts, err := a.Engine.ListShifts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(shifts)
				}
				tw := newTable("ID", "Guard", "Object", "Status", "Start", "End")
				for _, s := range shifts {
					tw.AppendRow(table.Row{s.ID, s.GuardID, s.ObjectID, s.Status, s.StartTime, deref(s.EndTime)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&f.GuardID, "guard", 0, "guard filter")
	cmd.Flags().Int64Var(&f.ObjectID, "object", 0, "object filter")
	cmd.Flags().StringVar(&status, "status", "", "ACTIVE, COMPLETED or HANDED_OVER")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func shiftSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <shift-id>",
		Short: "Render the shift summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				text, err := a.Engine.GenerateSummary(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"shift_id": id, "summary": text})
				}
				fmt.Println(text)
				return nil
			})
		},
	}
}

func shiftDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <shift-id>",
		Short: "Delete a shift with its events, handovers and reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := actor(ctx, a, auth.PermShiftDelete)
				if err != nil {
					return err
				}
				if err := a.Engine.DeleteShift(ctx, id, g.ID); err != nil {
					return err
				}
				fmt.Println("deleted shift", id)
				return nil
			})
		},
	}
}

func shiftOverrideCmd() *cobra.Command {
	var status, start, end string
	cmd := &cobra.Command{
		Use:   "override <shift-id>",
		Short: "Edit a shift's status or times",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			var o engine.ShiftOverride
			if cmd.Flags().Changed("status") {
				st := domain.ShiftStatus(strings.ToUpper(status))
				o.Status = &st
			}
			if cmd.Flags().Changed("start") {
				o.StartTime = &start
			}
			if cmd.Flags().Changed("end") {
				o.EndTime = &end
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := actor(ctx, a, auth.PermShiftOverride)
				if err != nil {
					return err
				}
				s, err := a.Engine.OverrideShift(ctx, id, o, g.ID)
				if err != nil {
					return err
				}
				return printShift(s)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&start, "start", "", "new start time (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "new end time (RFC3339, empty clears)")
	return cmd
}

func printShift(s domain.Shift) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	fmt.Printf("Shift #%d [%s]\nGuard: %d\nObject: %d\nStarted: %s\n", s.ID, s.Status, s.GuardID, s.ObjectID, s.StartTime)
	if s.EndTime != nil {
		fmt.Printf("Ended: %s\n", *s.EndTime)
	}
	return nil
}

func handoverCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "handover", Short: "Hand shifts over between guards"}
	cmd.AddCommand(handoverCreateCmd())
	cmd.AddCommand(handoverAcceptCmd())
	cmd.AddCommand(handoverCancelCmd())
	cmd.AddCommand(handoverRejectCmd())
	cmd.AddCommand(handoverShowCmd())
	cmd.AddCommand(handoverListCmd())
	cmd.AddCommand(handoverPendingCmd())
	cmd.AddCommand(handoverOverrideCmd())
	return cmd
}

func handoverCreateCmd() *cobra.Command {
	var shiftID, toID int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Hand the actor's shift to another guard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := actor(ctx, a, auth.PermHandoverCreate)
				if err != nil {
					return err
				}
				if shiftID == 0 {
					s, ok, err := a.Engine.ActiveShiftFor(ctx, g.ID)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("guard %d has no active shift; pass --shift", g.ID)
					}
					shiftID = s.ID
				}
				h, err := a.Engine.CreateHandover(ctx, shiftID, g.ID, toID)
				if err != nil {
					return err
				}
				return printHandover(h)
			})
		},
	}
	cmd.Flags().Int64Var(&shiftID, "shift", 0, "shift id (default: actor's active shift)")
	cmd.Flags().Int64Var(&toID, "to", 0, "receiving guard id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func handoverAcceptCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "accept <handover-id>",
		Short: "Accept a handover and start the actor's shift",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := actor(ctx, a, auth.PermHandoverAccept)
				if err != nil {
					return err
				}
				h, err := a.Engine.AcceptHandover(ctx, id, g.ID, notes)
				if err != nil {
					return err
				}
				return printHandover(h)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "remarks; non-empty marks ACCEPTED_WITH_NOTES")
	return cmd
}

func handoverCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <handover-id>",
		Short: "Cancel a handover and restore the source shift (--force for accepted ones)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := actor(ctx, a, auth.PermHandoverCancel)
				if err != nil {
					return err
				}
				if err := a.Engine.CancelHandover(ctx, id, g.ID, viper.GetBool("force")); err != nil {
					return err
				}
				fmt.Println("cancelled handover", id)
				return nil
			})
		},
	}
}

func handoverRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <handover-id>",
		Short: "Return an accepted handover to PENDING (--force removes an active receiver shift)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := actor(ctx, a, auth.PermHandoverReject); err != nil {
					return err
				}
				h, err := a.Engine.GetHandover(ctx, id)
				if err != nil {
					return err
				}
				h, err = a.Engine.RejectHandover(ctx, id, h.ToID, viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printHandover(h)
			})
		},
	}
}

func handoverShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <handover-id>",
		Short: "Show a handover",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				h, err := a.Engine.GetHandover(ctx, id)
				if err != nil {
					return err
				}
				return printHandover(h)
			})
		},
	}
}

func handoverListCmd() *cobra.Command {
	var (
		f      repo.HandoverFilters
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List handovers",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.HandoverStatus(strings.ToUpper(status))
			if f.Status != "" && !f.Status.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListHandovers(ctx, f)
				if err != nil {
					return err
				}
				return printHandovers(items)
			})
		},
	}
	cmd.Flags().Int64Var(&f.ShiftID, "shift", 0, "shift filter")
	cmd.Flags().Int64Var(&f.ObjectID, "object", 0, "object filter")
	cmd.Flags().Int64Var(&f.ByID, "by", 0, "sender filter")
	cmd.Flags().Int64Var(&f.ToID, "to", 0, "receiver filter")
	cmd.Flags().StringVar(&status, "status", "", "PENDING, ACCEPTED or ACCEPTED_WITH_NOTES")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func handoverPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Handovers waiting for the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := actor(ctx, a, auth.PermHandoverRead)
				if err != nil {
					return err
				}
				items, err := a.Engine.PendingHandoversFor(ctx, g.ID)
				if err != nil {
					return err
				}
				return printHandovers(items)
			})
		},
	}
}

func handoverOverrideCmd() *cobra.Command {
	var status, summary, notes string
	cmd := &cobra.Command{
		Use:   "override <handover-id>",
		Short: "Edit a handover's status, summary or notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			var o engine.HandoverOverride
			if cmd.Flags().Changed("status") {
				st := domain.HandoverStatus(strings.ToUpper(status))
				o.Status = &st
			}
			if cmd.Flags().Changed("summary") {
				o.Summary = &summary
			}
			if cmd.Flags().Changed("notes") {
				o.Notes = &notes
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := actor(ctx, a, auth.PermHandoverEdit)
				if err != nil {
					return err
				}
				h, err := a.Engine.OverrideHandover(ctx, id, o, g.ID)
				if err != nil {
					return err
				}
				return printHandover(h)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&summary, "summary", "", "replacement summary text")
	cmd.Flags().StringVar(&notes, "notes", "", "replacement notes")
	return cmd
}

func printHandover(h domain.ShiftHandover) error {
	if viper.GetBool("json") {
		return printJSON(h)
	}
	fmt.Printf("Handover #%d [%s]\nShift: %d\nObject: %d\nFrom: %d\nTo: %d\nHanded over: %s\n",
		h.ID, h.Status, h.ShiftID, h.ObjectID, h.ByID, h.ToID, h.HandedOverAt)
	if h.AcceptedAt != nil {
		fmt.Printf("Accepted: %s\n", *h.AcceptedAt)
	}
	if h.Notes != nil {
		fmt.Printf("Notes: %s\n", *h.Notes)
	}
	fmt.Printf("\n%s\n", h.Summary)
	return nil
}

func printHandovers(items []domain.ShiftHandover) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Shift", "Object", "From", "To", "Status", "Handed over")
	for _, h := range items {
		tw.AppendRow(table.Row{h.ID, h.ShiftID, h.ObjectID, h.ByID, h.ToID, h.Status, h.HandedOverAt})
	}
	tw.Render()
	return nil
}

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "event", Short: "Log and list shift events"}
	cmd.AddCommand(eventAddCmd())
	cmd.AddCommand(eventListCmd())
	return cmd
}

func eventAddCmd() *cobra.Command {
	var (
		shiftID   int64
		eventType string
		desc      string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Log an event on the actor's active shift",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := actor(ctx, a, auth.PermEventWrite)
				if err != nil {
					return err
				}
				if shiftID == 0 {
					s, ok, err := a.Engine.ActiveShiftFor(ctx, g.ID)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("guard %d has no active shift; pass --shift", g.ID)
					}
					shiftID = s.ID
				}
				ev, err := a.Engine.AddEvent(ctx, engine.EventOptions{
					ShiftID:     shiftID,
					AuthorID:    g.ID,
					Type:        domain.EventType(strings.ToUpper(eventType)),
					Description: desc,
					AnyAuthor:   a.Auth.Can(g, auth.PermEventWriteAny),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().Int64Var(&shiftID, "shift", 0, "shift id (default: actor's active shift)")
	cmd.Flags().StringVar(&eventType, "type", "", "INCIDENT, POWER_OFF, POWER_ON, VISITOR, DELIVERY or ALARM")
	cmd.Flags().StringVar(&desc, "description", "", "what happened")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func eventListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <shift-id>",
		Short: "List a shift's events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Engine.ShiftEvents(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "Time", "Type", "Author", "Description")
				for _, ev := range evts {
					tw.AppendRow(table.Row{ev.ID, ev.CreatedAt, ev.Type.Label(), ev.AuthorID, ev.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Inspect handover reports"}
	cmd.AddCommand(reportListCmd())
	cmd.AddCommand(reportShowCmd())
	return cmd
}

func reportListCmd() *cobra.Command {
	var f repo.ReportFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListReports(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Handover", "Object", "From", "To", "Events", "Shift start", "Shift end", "Notes")
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.HandoverID, r.ObjectID, r.ByID, r.ToID, r.EventsCount, r.ShiftStart, r.ShiftEnd, r.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&f.ObjectID, "object", 0, "object filter")
	cmd.Flags().Int64Var(&f.GuardID, "guard", 0, "sender or receiver filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func reportShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idArg(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.GetReport(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
}
