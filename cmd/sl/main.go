package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"shiftline/internal/app"
	"shiftline/internal/config"
	"shiftline/internal/db"
	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/repo"
	"shiftline/internal/server"
	"shiftline/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Shiftline CLI",
	Long: `Shiftline tracks guard shifts on security objects and the handovers between them.
- Directory: guards (guard, senior, controller, admin) and objects (SHIFT or TEMPORARY_SINGLE).
- Shift: ACTIVE while a guard is on duty; HANDED_OVER once a handover is created; COMPLETED when
  a TEMPORARY_SINGLE shift is ended.
- Handover: PENDING until the receiver accepts, which starts the receiver's shift and files a report.
- Events: incidents, power cuts, visitors, deliveries and alarms logged on an active shift.
Lifecycle commands act as the guard given by --actor and check that guard's permissions.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", describeError(err))
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHIFTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	// <workspace>/.env fills SHIFTLINE_* variables not already set.
	envFile := filepath.Join(viper.GetString("workspace"), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: load %s: %v\n", envFile, err)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/shiftline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("actor", 0, "guard id acting on lifecycle commands")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	for _, name := range []string{"workspace", "config", "json", "actor", "force", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(guardCmd())
	rootCmd.AddCommand(objectCmd())
	rootCmd.AddCommand(shiftCmd())
	rootCmd.AddCommand(handoverCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(serveCmd())
}

// describeError renders engine failures with their code and hides store internals.
func describeError(err error) string {
	if errors.Is(err, session.ErrRetriesExhausted) {
		return "store busy, try again later"
	}
	if f, ok := engine.AsFailure(err); ok {
		if f.Code == engine.StoreError {
			return "internal store error, see logs"
		}
		return fmt.Sprintf("%s: %s", f.Code, f.Message)
	}
	return err.Error()
}

func openOptions() app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		LogLevel:   viper.GetString("log-level"),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, openOptions())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// actor loads the --actor guard and checks perm.
func actor(ctx context.Context, a *app.App, perm string) (domain.Guard, error) {
	id := viper.GetInt64("actor")
	if id == 0 {
		return domain.Guard{}, errors.New("--actor (or SHIFTLINE_ACTOR) is required")
	}
	return a.Authorize(ctx, id, perm)
}

func idArg(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, errors.New("id argument required")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", args[0])
	}
	return id, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Println("schema up to date")
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Config lives in <workspace>/shiftline.yml: store path and retry policy, summary timezone, server settings, role permissions and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default shiftline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(openOptions())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadConfig(openOptions())
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys used by front-ends acting for a guard",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var guardID int64
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a key; the plain key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Principal(ctx, guardID); err != nil {
					return err
				}
				plain := "sl_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:        uuid.NewString(),
					GuardID:   guardID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(plain),
					CreatedAt: domain.FormatTime(time.Now()),
				}
				if err := a.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "guard_id": key.GuardID, "key": plain})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, plain)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&guardID, "guard", 0, "guard id the key acts for")
	cmd.Flags().StringVar(&name, "name", "", "label, e.g. telegram-bot")
	_ = cmd.MarkFlagRequired("guard")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var guardID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Repo.ListAPIKeys(ctx, guardID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Guard", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.GuardID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&guardID, "guard", 0, "guard filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var guardID int64
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a guard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Principal(ctx, guardID); err != nil {
					return err
				}
				tok, err := server.SignToken(jwtSecret(a.Config), guardID, ttl)
				if err != nil {
					return err
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&guardID, "guard", 0, "guard id")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime (0 = no expiry)")
	_ = cmd.MarkFlagRequired("guard")
	return cmd
}

func jwtSecret(cfg *config.Config) string {
	if s := viper.GetString("jwt-secret"); s != "" {
		return s
	}
	return cfg.Server.JWTSecret
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Scan the store for invariant violations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Engine.Audit(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(map[string]any{"clean": len(v) == 0, "violations": v}); err != nil {
						return err
					}
				} else if len(v) == 0 {
					fmt.Println("no violations")
				} else {
					tw := newTable("Rule", "Entity", "ID", "Detail")
					for _, x := range v {
						tw.AppendRow(table.Row{x.Rule, x.Entity, x.ID, x.Detail})
					}
					tw.Render()
				}
				if len(v) > 0 {
					return fmt.Errorf("%d violation(s) found", len(v))
				}
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:        jwtSecret(a.Config),
					AllowGuardHeader: a.Config.Server.AllowGuardHeader,
					Logger:           a.Logger.With("component", "auth"),
				}
				if authCfg.JWTSecret == "" {
					a.Logger.Warn("no jwt secret configured; bearer tokens are disabled")
				}
				handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				a.Logger.Info("serving shiftline api", "addr", addr, "base_path", basePath)
				fmt.Printf("Serving Shiftline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
