package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/taskbus/internal/bus"
	"github.com/oriys/taskbus/internal/config"
	"github.com/oriys/taskbus/internal/logging"
	"github.com/oriys/taskbus/internal/metrics"
	"github.com/oriys/taskbus/internal/queue"
	"github.com/oriys/taskbus/internal/scheduler"
	"github.com/oriys/taskbus/internal/tracing"
	"github.com/oriys/taskbus/internal/workerpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// echoArgs is the payload of the built-in diagnostic "echo" task, which
// every daemon registers a handler for so a fresh deployment has at least
// one working kind to smoke-test against.
type echoArgs struct {
	Message string `json:"message"`
}

type echoCodec struct{}

func (echoCodec) Kind() bus.Kind { return "echo" }

func (echoCodec) Serialize(a echoArgs) ([]byte, error) { return json.Marshal(a) }

func (echoCodec) Deserialize(p []byte) (echoArgs, error) {
	var a echoArgs
	err := json.Unmarshal(p, &a)
	return a, err
}

func daemonCmd() *cobra.Command {
	var (
		httpAddr string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the taskbusd task bus daemon",
		Long:  "Run taskbusd as a long-lived daemon: the in-process bus, its worker pool, recurring schedules, and the HTTP health/metrics surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("http-addr") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			if err := tracing.Init(context.Background(), tracing.Config{
				Enabled:        cfg.Observability.Tracing.Enabled,
				Exporter:       cfg.Observability.Tracing.Exporter,
				Endpoint:       cfg.Observability.Tracing.Endpoint,
				ServiceName:    cfg.Observability.Tracing.ServiceName,
				ServiceVersion: version,
				SampleRate:     cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer tracing.Shutdown(context.Background())

			var observer bus.Observer
			var promObserver *metrics.PrometheusObserver
			if cfg.Observability.Metrics.Enabled {
				promObserver = metrics.NewPrometheusObserver(cfg.Observability.Metrics.Namespace)
				observer = promObserver
			}
			if cfg.Observability.Tracing.Enabled {
				observer = combineObservers(observer, tracing.NewObserver())
			}

			var redisClient *redis.Client
			if cfg.Redis.Enabled {
				redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
				redisObserver := queue.NewRedisObserver(redisClient)
				observer = combineObservers(observer, redisObserver)
				logging.Op().Info("publishing lifecycle events to redis", "addr", cfg.Redis.Addr)
			}

			notifier := queue.NewChannelNotifier()
			defer notifier.Close()
			observer = combineObservers(observer, notifier)

			b := bus.New(bus.Config{
				AckTimeout:   cfg.Bus.AckTimeout,
				AutoAck:      cfg.Bus.AutoAck,
				TickDuration: cfg.Bus.TickDuration,
				Observer:     observer,
			})
			defer b.Stop()

			pool := workerpool.New(b, cfg.WorkerPool.PollInterval)
			defer pool.Stop()

			workerpool.WorkOn(pool, echoCodec{}, func(ctx context.Context, a echoArgs) error {
				logging.Op().Info("echo task processed", "message", a.Message)
				return nil
			}, 2)

			for _, g := range cfg.WorkerPool.Groups {
				if g.Kind == "echo" {
					continue
				}
				logging.Op().Warn("skipping configured worker group for unknown kind; register its codec in code", "kind", g.Kind)
			}

			sched := scheduler.New(b)
			recurring := scheduler.NewRecurring(b)
			for _, entry := range cfg.Scheduler.Recurring {
				if err := recurring.AddFunc(entry.Name, entry.CronExpr, entry.Kind, []byte(entry.Payload)); err != nil {
					logging.Op().Error("failed to register recurring entry", "name", entry.Name, "error", err)
				}
			}
			recurring.Start()
			defer recurring.Stop()

			if _, err := scheduler.TrySchedule(sched, echoCodec{}, echoArgs{Message: "taskbusd started"}, 0); err != nil {
				logging.Op().Warn("failed to enqueue startup echo task", "error", err)
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			if promObserver != nil {
				mux.Handle("/metrics", promObserver.Handler())
			}

			var handler http.Handler = mux
			if cfg.Observability.Tracing.Enabled {
				handler = tracing.HTTPMiddleware(mux)
			}

			server := &http.Server{Addr: cfg.Daemon.HTTPAddr, Handler: handler}
			go func() {
				logging.Op().Info("taskbusd HTTP surface started", "addr", cfg.Daemon.HTTPAddr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("http server error", "error", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logging.Op().Error("http server shutdown error", "error", err)
			}
			if redisClient != nil {
				redisClient.Close()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP address for /healthz and /metrics")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}

// combineObservers fans callbacks out to every non-nil observer in obs,
// returning that observer itself when only one is left. Used to attach the
// metrics, tracing, Redis and local notifier observers to the same bus.
type multiObserver struct {
	observers []bus.Observer
}

func combineObservers(obs ...bus.Observer) bus.Observer {
	m := &multiObserver{}
	for _, o := range obs {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
	if len(m.observers) == 1 {
		return m.observers[0]
	}
	return m
}

func (m *multiObserver) OnPut(kind bus.Kind, id bus.ID) {
	for _, o := range m.observers {
		o.OnPut(kind, id)
	}
}

func (m *multiObserver) OnDeliver(kind bus.Kind, id bus.ID, attempt int) {
	for _, o := range m.observers {
		o.OnDeliver(kind, id, attempt)
	}
}

func (m *multiObserver) OnAck(kind bus.Kind, id bus.ID) {
	for _, o := range m.observers {
		o.OnAck(kind, id)
	}
}

func (m *multiObserver) OnNack(kind bus.Kind, id bus.ID) {
	for _, o := range m.observers {
		o.OnNack(kind, id)
	}
}

func (m *multiObserver) OnPromote(kind bus.Kind, n int) {
	for _, o := range m.observers {
		o.OnPromote(kind, n)
	}
}

var _ bus.Observer = (*multiObserver)(nil)
