package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/idea-hub/internal/config"
	"github.com/garyjia/idea-hub/internal/container"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
	httpapi "github.com/garyjia/idea-hub/internal/interfaces/http"
	"github.com/garyjia/idea-hub/migrations"
	"github.com/garyjia/idea-hub/pkg/database"
	"github.com/garyjia/idea-hub/pkg/utils"
)

type rootOptions struct {
	configPath string
	logLevel   string
	asJSON     bool
	actor      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "ideactl",
		Short:         "Operate an idea-hub database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for diagnostics on stderr")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "output JSON")
	root.PersistentFlags().StringVar(&opts.actor, "actor", "ideactl", "operator id recorded in the audit log")

	root.AddCommand(
		newMigrateCmd(opts),
		newDashboardCmd(opts),
		newSLACmd(opts),
		newNotificationsCmd(opts),
		newExportCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewCLILogger(o.logLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// withContainer runs fn against a started container without workers
func (o *rootOptions) withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *container.Container) error) error {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	return fn(ctx, c)
}

// operator is the caller used for CLI mutations
func (o *rootOptions) operator() entity.Caller {
	return entity.Caller{UserID: o.actor, Name: "ideactl", Role: entity.RoleAdmin}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			db, err := database.New(database.Config{
				Path:        cfg.Database.Path,
				BusyTimeout: cfg.Database.BusyTimeout,
			}, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.NewMigrator(db, logger).Run(migrations.FS)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"applied": applied})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}
}

func newDashboardCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show idea counts, SLA breaches and queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				d, err := c.Services().Dashboard.Summary(ctx, time.Now())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.asJSON {
					return writeJSON(out, d)
				}

				tw := newTable(out)
				tw.SetTitle("Ideas by status")
				tw.AppendHeader(table.Row{"Status", "Count"})
				for _, s := range domainwf.AllStates {
					tw.AppendRow(table.Row{s, d.StatusCounts[s]})
				}
				tw.AppendFooter(table.Row{"Total", d.Total})
				tw.Render()

				tw = newTable(out)
				tw.SetTitle("Overdue and queue")
				tw.AppendHeader(table.Row{"Metric", "Count"})
				tw.AppendRows([]table.Row{
					{"analyst overdue", d.SLA.AnalystOverdue},
					{"finance overdue", d.SLA.FinanceOverdue},
					{"developer overdue", d.SLA.DeveloperOverdue},
					{"notifications pending", d.Notifications.Pending},
					{"notifications failed", d.Notifications.Failed},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func newSLACmd(opts *rootOptions) *cobra.Command {
	var escalate, notify bool

	cmd := &cobra.Command{
		Use:   "sla",
		Short: "List ideas past their stage SLA",
		Long:  "List ideas past their stage SLA. With --escalate, stale invitations are moved to no_response and listed on the marketplace.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				now := time.Now()
				svc := c.Services()

				overdue, err := svc.SLA.Overdue(ctx, now)
				if err != nil {
					return err
				}
				result := map[string]interface{}{"overdue": overdue}
				if escalate {
					report, err := svc.Assignment.ExpireInvitations(ctx, now)
					if err != nil {
						return err
					}
					result["escalation"] = report
				}
				if notify {
					task, err := svc.SLA.NotifySummary(ctx, now)
					if err != nil {
						return err
					}
					result["digest"] = task
				}

				out := cmd.OutOrStdout()
				if opts.asJSON {
					return writeJSON(out, result)
				}

				tw := newTable(out)
				tw.AppendHeader(table.Row{"Idea", "Title", "Stage", "Entered", "Elapsed", "Threshold"})
				for _, o := range overdue {
					tw.AppendRow(table.Row{o.IdeaID, o.Title, o.Stage, o.EnteredAt.Format(time.RFC3339),
						o.Elapsed.Round(time.Minute), o.Threshold})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "overdue", len(overdue)})
				tw.Render()

				if escalate {
					report := result["escalation"]
					fmt.Fprintf(out, "escalation: %s\n", mustJSON(report))
				}
				if task, ok := result["digest"].(*entity.NotificationTask); ok && task != nil {
					fmt.Fprintf(out, "digest queued: notification #%d to %s\n", task.ID, task.Recipient)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&escalate, "escalate", false, "expire stale invitations and list their ideas")
	cmd.Flags().BoolVar(&notify, "notify", false, "queue the overdue digest for the admin recipient")
	return cmd
}

func newNotificationsCmd(opts *rootOptions) *cobra.Command {
	parent := &cobra.Command{Use: "notifications", Short: "Inspect and retry queued notifications"}

	var status, recipient string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				page, err := c.Services().Notification.List(ctx, entity.NotificationFilter{
					Status:    entity.NotificationStatus(status),
					Recipient: recipient,
				}, entity.Page{Limit: limit})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.asJSON {
					return writeJSON(out, page)
				}

				tw := newTable(out)
				tw.AppendHeader(table.Row{"ID", "Recipient", "Template", "Status", "Attempts", "Last error"})
				for _, n := range page.Items {
					tw.AppendRow(table.Row{n.ID, n.Recipient, n.Template, n.Status, n.AttemptCount, n.LastError})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "total", page.Total})
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (pending, sent, failed)")
	list.Flags().StringVar(&recipient, "recipient", "", "filter by recipient")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	retry := &cobra.Command{
		Use:   "retry <id>",
		Short: "Move a failed notification back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid notification id %q", args[0])
			}
			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				task, err := c.Services().Notification.Retry(ctx, id, opts.operator())
				if err != nil {
					return err
				}
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), task)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "notification %d is %s\n", task.ID, task.Status)
				return nil
			})
		},
	}

	parent.AddCommand(list, retry)
	return parent
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var output, status, category string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export ideas to a spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			return opts.withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				filter := entity.IdeaFilter{Status: domainwf.State(status), Category: category}
				if err := c.Services().Idea.Export(ctx, filter, f); err != nil {
					_ = f.Close()
					_ = os.Remove(output)
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination .xlsx file")
	cmd.Flags().StringVar(&status, "status", "", "only ideas in this status")
	cmd.Flags().StringVar(&category, "category", "", "only ideas in this category")
	return cmd
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var userID, email, name, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if err := utils.ValidateIdentifier(userID); err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			caller := entity.Caller{UserID: userID, Email: email, Name: name, Role: entity.Role(role)}
			token, expiresAt, err := httpapi.IssueToken(httpapi.AuthConfig{
				Secret: []byte(cfg.Auth.JWTSecret),
				Issuer: cfg.Auth.Issuer,
			}, caller, ttl)
			if err != nil {
				return err
			}

			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"token": token, "expires_at": expiresAt})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(entity.RoleSubmitter), "role: "+roleList())
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	return cmd
}

func roleList() string {
	roles := []string{
		string(entity.RoleSubmitter), string(entity.RoleAnalyst), string(entity.RoleFinance),
		string(entity.RoleManager), string(entity.RoleDeveloper), string(entity.RoleAdmin),
	}
	sort.Strings(roles)
	return strings.Join(roles, ", ")
}

func mustJSON(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
