// Command platewatch-viewer prints the transitions published by a
// platewatch detector and can ask it to replay its ledger.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/platewatch/internal/broker"
	"github.com/crimson-sun/platewatch/internal/config"
	"github.com/crimson-sun/platewatch/internal/logging"
	"github.com/crimson-sun/platewatch/internal/viewer"
)

func main() {
	configPath := flag.String("config", "", "path to a platewatch YAML config (mqtt section is used)")
	brokerAddr := flag.String("broker", "", "MQTT broker address, overrides the config")
	history := flag.Bool("history", false, "request a history replay on startup")
	tagged := flag.Bool("tagged", false, "send history requests as a tagged control envelope")
	utc := flag.Bool("utc", false, "render times in UTC instead of local time")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := run(*configPath, *brokerAddr, *history, *tagged, *utc, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "platewatch-viewer: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, brokerAddr string, history, tagged, utc, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if brokerAddr != "" {
		cfg.MQTT.Broker = brokerAddr
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if debug {
		level = slog.LevelDebug
	}
	logging.Init(logging.Options{Level: level})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := broker.New(broker.Config{
		Broker:         cfg.MQTT.Broker,
		ClientID:       "platewatch-viewer-" + uuid.NewString()[:8],
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		QoS:            cfg.MQTT.QoS,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		PublishTimeout: cfg.MQTT.PublishTimeout,
	})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	opts := []viewer.Option{}
	if utc {
		opts = append(opts, viewer.WithLocation(time.UTC))
	}
	if tagged {
		opts = append(opts, viewer.WithTaggedControl())
	}
	v := viewer.New(os.Stdout, client, cfg.MQTT.Topics.Control, opts...)

	topics := cfg.MQTT.Topics
	if err := v.Subscribe(ctx, client, topics.Live, topics.History); err != nil {
		return err
	}

	if history {
		if err := v.RequestHistory(ctx); err != nil {
			slog.Warn("initial history request failed", "error", err)
		}
	}

	fmt.Fprintln(os.Stderr, "platewatch-viewer: r + Enter requests history, q + Enter quits")
	err = v.ReadCommands(ctx, os.Stdin)
	if errors.Is(err, io.EOF) {
		// No terminal attached; keep printing until signalled.
		<-ctx.Done()
		err = nil
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	counts, skipped := v.Counts()
	slog.Info("viewer stopped", "received", counts, "skipped", skipped)
	return err
}
