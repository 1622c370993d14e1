/*
main.go - Application entry point

PURPOSE:
  Starts the payroll engine HTTP server, or runs one-off operations
  (seed, freeze, payroll) against the same database.

STARTUP SEQUENCE:
  1. Load config (defaults < config file < PAYROLL_* env < flags)
  2. Build the zap logger
  3. Open the SQLite store (migrations run on open)
  4. Apply the template seed file, if configured
  5. Wire services and the HTTP router
  6. Start the auto-freeze scheduler, if enabled
  7. Serve until SIGINT/SIGTERM, then shut down gracefully

COMMANDS:
  payroll-server                          Serve HTTP (default)
  payroll-server seed FILE                Apply a seed file and exit
  payroll-server freeze TENANT PERIOD     Freeze attendance and exit
  payroll-server run TENANT PERIOD        Run payroll and exit

FLAGS:
  --config  Config file (default: ./config.yaml or ./config/config.yaml)
  --port    HTTP server port, overrides server.port
  --db      SQLite database path, overrides db.path (":memory:" allowed)

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
)

var (
	configPath string
	v          = config.New()
)

var rootCmd = &cobra.Command{
	Use:           "payroll-server",
	Short:         "Salary and payroll resolution engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := open()
		if err != nil {
			return err
		}
		defer a.Close()
		return serve(cmd.Context(), a)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Apply a seed file of employees and templates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := open()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.seed(cmd.Context(), args[0])
	},
}

var freezeCmd = &cobra.Command{
	Use:   "freeze TENANT PERIOD",
	Short: "Freeze attendance of every active employee for a period",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := generic.ParsePeriod(args[1])
		if err != nil {
			return err
		}
		a, err := open()
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.Attendance.Freeze(cmd.Context(), generic.TenantID(args[0]), period)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var runCmd = &cobra.Command{
	Use:   "run TENANT PERIOD",
	Short: "Run payroll for a period",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := generic.ParsePeriod(args[1])
		if err != nil {
			return err
		}
		a, err := open()
		if err != nil {
			return err
		}
		defer a.Close()
		out, err := a.Payroll.Run(cmd.Context(), generic.TenantID(args[0]), period)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().Int("port", 8080, "HTTP server port")
	rootCmd.PersistentFlags().String("db", "payroll.db", "SQLite database path")
	bindFlag("server.port", "port")
	bindFlag("db.path", "db")

	rootCmd.AddCommand(seedCmd, freezeCmd, runCmd)
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// open loads config and wires the application.
func open() (*app, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func serve(ctx context.Context, a *app) error {
	if a.Config.Templates.SeedFile != "" {
		if err := a.seed(ctx, a.Config.Templates.SeedFile); err != nil {
			return err
		}
	}

	if af := a.Config.Attendance.AutoFreeze; af.Enabled {
		tenants := make([]generic.TenantID, len(af.Tenants))
		for i, t := range af.Tenants {
			tenants[i] = generic.TenantID(t)
		}
		sched := attendance.NewFreezeScheduler(a.Attendance, tenants, af.Interval)
		sched.Start(ctx)
		defer sched.Stop()
	}

	router := api.NewRouter(a.Handler, api.RouterOptions{AllowedOrigins: a.Config.Server.CORS.AllowOrigins})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", zap.Int("port", a.Config.Server.Port), zap.String("db", a.Config.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.Logger.Info("server stopped")
	return nil
}

func (a *app) seed(ctx context.Context, path string) error {
	seed, err := factory.LoadSeedFile(path)
	if err != nil {
		return err
	}
	res, err := seed.Apply(ctx, a.Store, a.Store)
	if err != nil {
		return err
	}
	a.Logger.Info("seed applied",
		zap.String("file", path),
		zap.Int("employees", res.Employees),
		zap.Int("templates", res.Templates),
		zap.Int("existing_templates", res.Existing))
	return nil
}

func printJSON(cmd *cobra.Command, data any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
