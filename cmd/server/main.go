package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/NumberChiffre/SimpleLOBStream/docs"
	appmarketdata "github.com/NumberChiffre/SimpleLOBStream/internal/application/service/marketdata"
	"github.com/NumberChiffre/SimpleLOBStream/internal/application/service/publisher"
	"github.com/NumberChiffre/SimpleLOBStream/internal/application/service/reconcile"
	"github.com/NumberChiffre/SimpleLOBStream/internal/config"
	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/interfaces"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/broker"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/cache"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/feed"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/jsonl"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/kafka"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/logging"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/metrics"
	infrahttp "github.com/NumberChiffre/SimpleLOBStream/internal/interfaces/http"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("failed to init logger")
	}

	logger.WithFields(logrus.Fields{"app": cfg.App.Name, "env": cfg.App.Env}).Info("starting")

	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Host = cfg.HTTP.Addr()

	reg := metrics.Register(logger)

	mode, err := publisher.ParseMode(cfg.Publish.Mode)
	if err != nil {
		logger.Fatalf("invalid publish mode: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Publish.HasSink(config.SinkRedis) {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	sinks, err := buildSinks(cfg, redisClient, logger)
	if err != nil {
		logger.Fatalf("failed to init sinks: %v", err)
	}
	bridge := publisher.NewBridge(sinks, publisher.Options{
		QueueSize:    cfg.Publish.QueueSize,
		OfferTimeout: cfg.Publish.OfferTimeout,
		SinkTimeout:  cfg.Publish.SinkTimeout,
		Depth:        cfg.Publish.Depth,
	}, logger)

	var snapshotter *feed.BinanceSnapshotter
	if cfg.Feed.Source == config.SourceBinance {
		snapshotter = feed.NewBinanceSnapshotter(feed.BinanceSnapshotterOptions{
			SpotURL:     cfg.Binance.SpotDepthURL,
			DeliveryURL: cfg.Binance.DeliveryDepthURL,
			Limit:       cfg.Binance.DepthLimit,
			Timeout:     cfg.Binance.FetchTimeout,
		})
	}

	pipelines := make([]*appmarketdata.Pipeline, 0, len(cfg.Feed.Symbols))
	for _, symbol := range cfg.Feed.Symbols {
		source, err := buildSource(cfg, symbol, snapshotter, logger)
		if err != nil {
			logger.Fatalf("failed to init %s source for %s: %v", cfg.Feed.Source, symbol, err)
		}
		pipeline, err := appmarketdata.NewPipeline(appmarketdata.PipelineConfig{
			Symbol:          symbol,
			Mode:            mode,
			PublishInterval: cfg.Publish.Interval,
			TickInterval:    cfg.Reconcile.TickInterval,
			FeedBuffer:      cfg.Feed.Buffer,
			ViewDepth:       cfg.Reconcile.ViewDepth,
			Reconcile: reconcile.Options{
				BufferLimit:     cfg.Reconcile.BufferLimit,
				SnapshotTimeout: cfg.Reconcile.SnapshotTimeout,
			},
		}, source, bridge, logger)
		if err != nil {
			logger.Fatalf("failed to init pipeline for %s: %v", symbol, err)
		}
		pipelines = append(pipelines, pipeline)
	}

	service, err := appmarketdata.NewService(pipelines...)
	if err != nil {
		logger.Fatalf("failed to init marketdata service: %v", err)
	}

	server := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: infrahttp.NewHandler(service, infrahttp.Options{
			Registry:     reg,
			DefaultDepth: cfg.Publish.Depth,
			MaxDepth:     cfg.Reconcile.ViewDepth,
		}, logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.Run(gctx)
	})
	g.Go(func() error {
		return service.Run(gctx)
	})
	g.Go(func() error {
		logger.Infof("HTTP server listening on %s", cfg.HTTP.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.WithFields(logrus.Fields{
		"source":  cfg.Feed.Source,
		"symbols": strings.Join(service.Symbols(), ","),
		"mode":    mode,
		"sinks":   len(sinks),
	}).Info("server started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("server stopped with error: %v", err)
		return
	}
	logger.Info("server stopped")
}

func buildSinks(cfg *config.Config, redisClient *redis.Client, logger *logrus.Logger) ([]interfaces.Sink, error) {
	var sinks []interfaces.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}
	for _, name := range cfg.Publish.Sinks {
		var (
			sink interfaces.Sink
			err  error
		)
		switch strings.ToLower(name) {
		case config.SinkRedis:
			sink, err = cache.NewRedisSink(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.Channel)
		case config.SinkKafka:
			sink, err = kafka.NewSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchTimeout)
		case config.SinkRabbitMQ:
			sink, err = broker.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.UpdatesExchange, "topic", false, logger)
		case config.SinkJSONL:
			sink, err = jsonl.New(cfg.JSONL.Path)
		default:
			err = fmt.Errorf("unsupported sink %q", name)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%s sink: %w", name, err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

func buildSource(cfg *config.Config, symbol string, snapshotter *feed.BinanceSnapshotter, logger *logrus.Logger) (interfaces.FeedSource, error) {
	wsOpts := feed.WebSocketOptions{
		PingInterval: cfg.Feed.PingInterval,
		ReadTimeout:  cfg.Feed.ReadTimeout,
		BackoffMin:   cfg.Feed.BackoffMin,
		BackoffMax:   cfg.Feed.BackoffMax,
		MaxAttempts:  cfg.Feed.MaxAttempts,
	}
	switch cfg.Feed.Source {
	case config.SourceBinance:
		url := cfg.Feed.URL
		if url == "" {
			url = feed.BinanceStreamURL(symbol)
		}
		return feed.NewWebSocketSource(url, symbol, feed.NewBinanceCodec(cfg.Binance.BufferLimit), snapshotter, wsOpts, logger)
	case config.SourceWebSocket:
		return feed.NewWebSocketSource(cfg.Feed.URL, symbol, feed.NewJSONCodec(), nil, wsOpts, logger)
	case config.SourceReplay:
		return feed.NewReplaySource(cfg.Feed.ReplayPath, symbol, cfg.Feed.ReplayDelay, logger), nil
	case config.SourceRabbitMQ:
		return broker.NewConsumer(cfg.RabbitMQ, symbol, logger)
	default:
		return nil, fmt.Errorf("unsupported source %q", cfg.Feed.Source)
	}
}
