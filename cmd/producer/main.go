// Command producer relays T-Invest order book streams into the records
// exchange as snapshot records, one routing key per instrument.
package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/NumberChiffre/SimpleLOBStream/internal/config"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/broker"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/logging"

	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadProducer()
	if err != nil {
		logrus.WithError(err).Fatal("config error")
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("failed to init logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub, err := broker.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.RecordsExchange, "direct", true, logger)
	if err != nil {
		logger.Fatalf("init publisher: %v", err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.WithError(err).Error("close publisher")
		}
	}()

	client, err := investgo.NewClient(ctx, investgo.Config{
		EndPoint:           cfg.Invest.Endpoint,
		Token:              cfg.Invest.Token,
		AppName:            cfg.Invest.AppName,
		InsecureSkipVerify: cfg.Invest.InsecureSkipVerify,
	}, logger)
	if err != nil {
		logger.Fatalf("create invest api client: %v", err)
	}
	defer func() {
		if stopErr := client.Stop(); stopErr != nil {
			logger.Errorf("stop invest api client: %v", stopErr)
		}
	}()

	stream, err := client.NewMarketDataStreamClient().MarketDataStream()
	if err != nil {
		logger.Fatalf("create market data stream: %v", err)
	}
	defer stream.Stop()

	orderBookChan, err := stream.SubscribeOrderBook(cfg.Instruments, int32(cfg.OrderBookDepth))
	if err != nil {
		logger.Fatalf("subscribe order books: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stream.Listen()
	})
	g.Go(func() error {
		return pumpOrderBooks(gctx, orderBookChan, pub, newSequencer(), logger)
	})

	logger.WithFields(logrus.Fields{
		"instruments": len(cfg.Instruments),
		"exchange":    cfg.RabbitMQ.RecordsExchange,
		"depth":       cfg.OrderBookDepth,
	}).Info("producer started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("producer stopped with error: %v", err)
	}
	logger.Info("producer stopped")
}

func pumpOrderBooks(ctx context.Context, stream <-chan *pb.OrderBook, pub *broker.Publisher, seq *sequencer, logger *logrus.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case book, ok := <-stream:
			if !ok {
				return nil
			}
			rec, err := convertOrderBook(book, seq)
			if err != nil {
				logger.WithError(err).Warn("skip order book")
				continue
			}
			if err := pub.PublishRecord(ctx, rec); err != nil {
				return fmt.Errorf("publish order book %s: %w", rec.Symbol, err)
			}
		}
	}
}
