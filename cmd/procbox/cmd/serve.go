package cmd

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/procbox/pkg/config"
	"github.com/psantana5/procbox/pkg/control"
	"github.com/psantana5/procbox/pkg/dump"
	"github.com/psantana5/procbox/pkg/logging"
	"github.com/psantana5/procbox/pkg/metrics"
	"github.com/psantana5/procbox/pkg/shutdown"
	"github.com/psantana5/procbox/pkg/store"
	"github.com/psantana5/procbox/pkg/supervisor"
)

var (
	metricsAddr string
	logLevel    string
	jsonLogs    bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor daemon",
	Long:  `Start the supervisor daemon: it loads the task definitions from the config file, autostarts the ones marked for it, and serves control requests and Prometheus metrics until terminated.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus /metrics listen address (empty disables)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	serveCmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logging.NewFileLogger("procbox", logging.ParseLevel(logLevel), jsonLogs)
	if err != nil {
		logger = logging.NewLogger(logging.ParseLevel(logLevel), jsonLogs)
		logger.Warn("File logging unavailable, using stdout only", map[string]interface{}{"error": err.Error()})
	}
	defer logger.Close()
	defer dump.Guard("procbox", filepath.Join(logging.BaseDir(), "dumps"), logger)

	cfg := config.NewStore(ConfigFilePath())
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	hist, err := store.NewStore(store.Config{
		Type: cfg.GetString("store.type", "sqlite"),
		Path: cfg.GetString("store.path", "procbox.db"),
	})
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}

	collector := metrics.NewCollector()

	sup, err := supervisor.New(supervisor.Options{
		EventDir:   cfg.GetString("runtime.event_dir", ""),
		TaskLogDir: filepath.Join(logging.BaseDir(), "tasks"),
		Logger:     logger,
		History:    hist,
		Metrics:    collector,
	})
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}

	ctrl, err := control.NewServer(GetControlAddr(), sup, hist, logger)
	if err != nil {
		return err
	}

	mgr := shutdown.New(supervisor.DefaultTimeout+supervisor.DefaultGracePeriod+5*time.Second, logger)
	mgr.Register("history-store", shutdown.CloseResource(hist))
	mgr.Register("supervisor", func(context.Context) error {
		for _, res := range sup.Shutdown(supervisor.DefaultTimeout) {
			if res.Err != nil {
				logger.Error("Task did not stop cleanly", map[string]interface{}{
					"task": res.ID, "error": res.Err.Error(),
				})
			}
		}
		return nil
	})
	mgr.Register("control-server", shutdown.CloseResource(ctrl))

	if addr := resolveMetricsAddr(cfg); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", map[string]interface{}{"error": err.Error()})
			}
		}()
		mgr.Register("metrics-server", shutdown.StopHTTPServer(srv))
		logger.Info("Metrics server listening", map[string]interface{}{"addr": addr})
	}

	if err := autostart(cfg, sup, logger); err != nil {
		return err
	}

	logger.Info("Supervisor daemon ready", map[string]interface{}{
		"control": ctrl.Addr(), "config": cfg.Path(),
	})
	mgr.Wait()
	return nil
}

// autostart registers all configured tasks and starts the ones marked for it.
func autostart(cfg *config.Store, sup *supervisor.Supervisor, logger *logging.Logger) error {
	defs, err := cfg.Tasks()
	if err != nil {
		return fmt.Errorf("read task definitions: %w", err)
	}
	for _, def := range defs {
		if _, err := sup.Create(def.ID, def.Target()); err != nil {
			return fmt.Errorf("register task %s: %w", def.ID, err)
		}
		if !def.Autostart {
			continue
		}
		if err := sup.Start(def.ID, supervisor.DefaultTimeout); err != nil {
			// A broken task must not keep the daemon down; it stays Failed
			// and can be fixed and restarted through the control channel.
			logger.Error("Autostart failed", map[string]interface{}{
				"task": def.ID, "error": err.Error(),
			})
		}
	}
	return nil
}

func resolveMetricsAddr(cfg *config.Store) string {
	if metricsAddr != "" {
		return metricsAddr
	}
	return cfg.GetString("metrics.addr", "")
}
