package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prunsync/internal/app"
	"prunsync/internal/config"
	"prunsync/internal/db"
	"prunsync/internal/domain"
	"prunsync/internal/migrate"
	"prunsync/internal/repo"
	"prunsync/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "prunsync",
	Short: "PrUn game data sync service",
	Long: `prunsync mirrors Prosperous Universe game data from the FIO API into a
local SQLite database and serves it over an HTTP API.

It keeps planets, exchanges, prices and linked player accounts fresh via a
background scheduler, tracks per-entity refresh health with retry backoff,
and caches read responses with hierarchical invalidation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PRUNSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/prunsync.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(playerCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Listen = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			if secret := os.Getenv("PRUNSYNC_JWT_SECRET"); secret != "" {
				cfg.Server.JWTSecret = secret
			}
			if cfg.Server.JWTSecret == "" && len(cfg.Server.APIKeys) == 0 {
				return fmt.Errorf("server.jwt_secret or server.api_keys is required (or set PRUNSYNC_JWT_SECRET)")
			}

			log := newLogger()
			a, err := app.New(cfg, viper.GetString("workspace"), log)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := server.New(server.Config{
				Repo:      a.Repo,
				Cache:     a.Cache,
				Events:    a.Events,
				Importer:  a.Importer,
				Scheduler: a.Scheduler,
				Metrics:   a.Metrics,
				BasePath:  cfg.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret: cfg.Server.JWTSecret,
					APIKeys:   cfg.Server.APIKeys,
					Logger:    log,
				},
			})
			if err != nil {
				return err
			}

			if !noScheduler {
				go a.Scheduler.Start(cmd.Context())
			}

			srv := &http.Server{Addr: cfg.Server.Listen, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving prunsync API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", cfg.Server.Listen, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without background refreshes")
	return cmd
}

func refreshCmd() *cobra.Command {
	ref := &cobra.Command{Use: "refresh", Short: "Run a refresh cycle manually"}
	ref.AddCommand(refreshPlanetCmd())
	ref.AddCommand(refreshInfrastructureCmd())
	ref.AddCommand(refreshExchangesCmd())
	ref.AddCommand(refreshPricesCmd())
	ref.AddCommand(refreshStaticCmd())
	return ref
}

func refreshPlanetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "planet [natural-id]",
		Short: "Refresh one planet, or the stalest eligible one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if len(args) == 0 {
					naturalID, err := a.Scheduler.RefreshNextPlanet(ctx)
					if err != nil {
						return err
					}
					if naturalID == "" {
						fmt.Println("no planet due for refresh")
						return nil
					}
					fmt.Println("refreshed", naturalID)
					return nil
				}
				planet, err := a.Repo.GetPlanet(ctx, args[0])
				if err != nil {
					return err
				}
				claimed, err := a.Repo.MarkPlanetPending(ctx, planet.NaturalID, time.Now().UTC())
				if err != nil {
					return err
				}
				if !claimed {
					return fmt.Errorf("planet %s refresh already in flight", planet.NaturalID)
				}
				if err := a.Scheduler.RefreshPlanet(ctx, planet); err != nil {
					return err
				}
				fmt.Println("refreshed", planet.NaturalID)
				return nil
			})
		},
	}
	return cmd
}

func refreshInfrastructureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infrastructure <natural-id>",
		Short: "Refresh infrastructure reports for a planet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Importer.ImportPlanetInfrastructure(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("imported %d infrastructure reports for %s\n", n, args[0])
				return nil
			})
		},
	}
	return cmd
}

func refreshExchangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exchanges",
		Short: "Refresh exchange station data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Scheduler.RefreshExchanges(ctx); err != nil {
					return err
				}
				fmt.Println("exchanges refreshed")
				return nil
			})
		},
	}
	return cmd
}

func refreshPricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Refresh price history for all known ticker pairs and recompute analytics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Scheduler.RefreshPrices(ctx); err != nil {
					return err
				}
				fmt.Println("prices refreshed")
				return nil
			})
		},
	}
	return cmd
}

func refreshStaticCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "static",
		Short: "Refresh materials, buildings, recipes and the full planet list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Scheduler.RefreshStatic(ctx); err != nil {
					return err
				}
				fmt.Println("static data refreshed")
				return nil
			})
		},
	}
	return cmd
}

func dispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Refresh all eligible player accounts now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Scheduler.DispatchPlayerRefresh(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("dispatched %d player refreshes\n", n)
				return nil
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show refresh health per collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				planets, err := r.StatusCounts(ctx, "planets")
				if err != nil {
					return err
				}
				players, err := r.StatusCounts(ctx, "players")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]map[string]int{
						"planets": planets,
						"players": players,
					})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Collection", "Status", "Count"})
				for _, row := range statusRows("planets", planets) {
					tw.AppendRow(row)
				}
				for _, row := range statusRows("players", players) {
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func statusRows(collection string, counts map[string]int) []table.Row {
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	rows := make([]table.Row, 0, len(statuses))
	for _, s := range statuses {
		rows = append(rows, table.Row{collection, s, counts[s]})
	}
	return rows
}

func playerCmd() *cobra.Command {
	p := &cobra.Command{Use: "player", Short: "Manage linked player accounts"}
	p.AddCommand(playerAddCmd())
	p.AddCommand(playerListCmd())
	return p
}

func playerAddCmd() *cobra.Command {
	var userID, username, apiKey string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Link a player account for background refreshes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			if userID == "" {
				userID = uuid.NewString()
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC()
				player := domain.Player{
					UserID:       userID,
					Username:     username,
					APIKey:       apiKey,
					LastActiveAt: &now,
					Automation:   domain.AutomationState{Status: domain.StatusOK},
				}
				if err := r.UpsertPlayer(ctx, player); err != nil {
					return err
				}
				fmt.Println("player linked:", userID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "player id (generated when omitted)")
	cmd.Flags().StringVar(&username, "username", "", "FIO username")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "per-player FIO API key")
	return cmd
}

func playerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List linked players",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				players, err := r.ListPlayers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(players)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User ID", "Username", "Status", "Errors", "Last Refreshed"})
				for _, p := range players {
					last := ""
					if p.Automation.LastRefreshedAt != nil {
						last = p.Automation.LastRefreshedAt.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{p.UserID, p.Username, p.Automation.Status, p.Automation.ErrorCount, last})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the refresh event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var collection string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail refresh events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Events.Latest(ctx, n, collection)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&collection, "collection", "", "collection filter")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage configuration"}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	return c
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default prunsync.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			data, err := config.Default().ToYAML()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			data, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Path: cfg.Database.Path, Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("database up to date")
			return nil
		},
	}
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, viper.GetString("workspace"), newLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Path: cfg.Database.Path, Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
