package di

import (
	"context"
	"fmt"
	"time"

	drepo "KasPull/internal/domain/repository"
	"KasPull/internal/handler/api"
	mid "KasPull/internal/middleware"
	internalrepo "KasPull/internal/repository"
	"KasPull/internal/service/poller"
	"KasPull/internal/service/ratelimit"
	"KasPull/internal/service/sheets"
	"KasPull/internal/service/stabilizer"
	"KasPull/internal/usecase"
	pkgamqp "KasPull/pkg/amqp"
	"KasPull/pkg/cache"
	pkgch "KasPull/pkg/clickhouse"
	"KasPull/pkg/config"
	xhttp "KasPull/pkg/http"
	pkgkafka "KasPull/pkg/kafka"
	"KasPull/pkg/logger"
	"KasPull/pkg/metrics"
	"KasPull/pkg/server"
)

// ProvideLogger builds the root logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

func ProvideSheetsClient(cfg *config.Config) *sheets.Client {
	httpClient := xhttp.NewClient(
		xhttp.WithTimeout(cfg.Source.Timeout),
		xhttp.WithUserAgent(cfg.Source.UserAgent),
		xhttp.WithMaxBody(cfg.Source.MaxBody),
	)
	return sheets.New(cfg.Source.URL,
		sheets.WithUserAgent(cfg.Source.UserAgent),
		sheets.WithHTTPClient(httpClient),
	)
}

func ProvidePoller(fetcher *sheets.Client, m drepo.Metrics, l *logger.Logger, cfg *config.Config) *poller.Poller {
	return poller.New(fetcher,
		poller.WithTimeout(cfg.Source.Timeout),
		poller.WithCacheBust(cfg.Source.CacheBust),
		poller.WithMetrics(m),
		poller.WithLogger(l.With("poller")),
	)
}

func ProvideStabilizer(cfg *config.Config) *stabilizer.Stabilizer {
	s := cfg.Stabilizer
	return stabilizer.New(stabilizer.Config{
		WindowSize:            s.WindowSize,
		RequiredConfirmations: s.RequiredConfirmations,
		ResetThreshold:        s.ResetThreshold,
		MinSupport:            s.MinSupport,
	})
}

// ProvideNotifier subscribes the synchronous listeners. Slow sinks are
// attached in ProvidePipelines.
func ProvideNotifier(l *logger.Logger, m drepo.Metrics) *usecase.Notifier {
	n := usecase.NewNotifier()
	ll := usecase.NewLogListener(l.With("balance"))
	n.Subscribe(ll)
	n.SubscribeFailures(ll)
	n.Subscribe(usecase.NewMetricsListener(m))
	return n
}

func ProvideScheduler(
	p *poller.Poller,
	stab *stabilizer.Stabilizer,
	n *usecase.Notifier,
	m drepo.Metrics,
	l *logger.Logger,
	cfg *config.Config,
) *usecase.Scheduler {
	s := cfg.Scheduler
	return usecase.NewScheduler(p, stab, n, usecase.ScheduleConfig{
		BaseDelay:  s.BaseDelay,
		MinDelay:   s.MinDelay,
		MaxDelay:   s.MaxDelay,
		Multiplier: s.Multiplier,
		MaxRetries: s.MaxRetries,
	},
		usecase.WithSchedulerMetrics(m),
		usecase.WithSchedulerLogger(l.With("scheduler")),
	)
}

// ProvideCache uses Redis when enabled and process memory otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(256)), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

func ProvideSnapshotStore(c cache.Service) drepo.SnapshotStore {
	return internalrepo.NewCacheSnapshotStore(c)
}

// ProvideChangeStore connects to ClickHouse and creates the change log
// table. It returns nil when ClickHouse is disabled.
func ProvideChangeStore(cfg *config.Config, l *logger.Logger) (drepo.ChangeStore, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(4, 2),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithAsyncInsert(ch.AsyncInsert),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	store := internalrepo.NewCHChangeStore(client, l.With("clickhouse"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideEventPublisher returns the configured broker publisher, or nil
// when events are disabled.
func ProvideEventPublisher(cfg *config.Config) (drepo.EventPublisher, error) {
	switch cfg.Events.Backend {
	case "kafka":
		k := cfg.Events.Kafka
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(k.Brokers),
			pkgkafka.WithTopic(k.Topic),
			pkgkafka.WithCompression(k.Compression),
			pkgkafka.WithRequiredAcks(k.RequiredAcks),
			pkgkafka.WithMaxAttempts(k.MaxAttempts),
			pkgkafka.WithWriteTimeout(k.WriteTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		return internalrepo.NewKafkaPublisher(producer), nil
	case "amqp":
		pub, err := pkgamqp.NewPublisher(cfg.Events.AMQP)
		if err != nil {
			return nil, fmt.Errorf("amqp publisher: %w", err)
		}
		return internalrepo.NewAMQPPublisher(pub), nil
	default:
		return nil, nil
	}
}

// ProvidePipelines puts every slow sink behind its own ordered pipeline
// and subscribes it to the notifier.
func ProvidePipelines(
	n *usecase.Notifier,
	snapshots drepo.SnapshotStore,
	changes drepo.ChangeStore,
	publisher drepo.EventPublisher,
	m drepo.Metrics,
	l *logger.Logger,
	cfg *config.Config,
) server.Pipelines {
	ev := cfg.Events
	opts := func(name string) []mid.PipelineOption {
		return []mid.PipelineOption{
			mid.WithBufferSize(ev.BufferSize),
			mid.WithMaxAttempts(ev.MaxAttempts),
			mid.WithBackoff(ev.MinBackoff, ev.MaxBackoff),
			mid.WithPipelineLogger(l.With("pipeline." + name)),
		}
	}

	var out server.Pipelines
	add := func(name string, sink mid.SinkFunc) {
		p := mid.NewEventPipeline(name, sink, m, opts(name)...)
		n.Subscribe(p)
		out = append(out, p)
	}

	add("snapshot", snapshots.Save)
	if changes != nil {
		add("clickhouse", changes.Append)
	}
	if publisher != nil {
		add(ev.Backend, publisher.Publish)
	}
	return out
}

func ProvideBalanceService(
	sched *usecase.Scheduler,
	n *usecase.Notifier,
	snapshots drepo.SnapshotStore,
	changes drepo.ChangeStore,
	pipelines server.Pipelines,
	c cache.Service,
	l *logger.Logger,
	cfg *config.Config,
) *usecase.BalanceService {
	opts := []usecase.BalanceOption{
		usecase.WithSnapshots(snapshots),
		usecase.WithHistoryCache(c, cfg.API.HistoryCacheTTL),
		usecase.WithBalanceLogger(l.With("balance")),
	}
	for _, p := range pipelines {
		if p.Name() == "snapshot" {
			opts = append(opts, usecase.WithSnapshotSequencer(p))
		}
	}
	if changes != nil {
		opts = append(opts, usecase.WithChangeStore(changes))
	}
	return usecase.NewBalanceService(sched, n, opts...)
}

func ProvideRefreshLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.API.RefreshBurst, cfg.API.RefreshPerSecond)
}

func ProvideBalanceHandler(l *logger.Logger, svc *usecase.BalanceService, rl *ratelimit.Limiter) *api.BalanceEchoHandler {
	return api.NewBalanceEchoHandler(l.With("api"), svc, rl)
}

func ProvideHTTPServer(cfg *config.Config, l *logger.Logger, h *api.BalanceEchoHandler) *xhttp.Server {
	return xhttp.NewServer(h,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetrics(cfg.Metrics.Enabled, cfg.Metrics.Path),
		xhttp.WithLogger(l.With("http")),
	)
}

// ProvideClosers lists the clients the app releases at shutdown, in order.
func ProvideClosers(c cache.Service, changes drepo.ChangeStore, publisher drepo.EventPublisher) server.Closers {
	var out server.Closers
	if publisher != nil {
		out = append(out, server.NamedCloser{Name: "events", Closer: publisher})
	}
	if changes != nil {
		out = append(out, server.NamedCloser{Name: "clickhouse", Closer: changes})
	}
	return append(out, server.NamedCloser{Name: "cache", Closer: c})
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	httpServer *xhttp.Server,
	sched *usecase.Scheduler,
	svc *usecase.BalanceService,
	pipelines server.Pipelines,
	closers server.Closers,
) *server.App {
	return server.New(cfg, l, httpServer, sched, svc, pipelines, closers)
}
