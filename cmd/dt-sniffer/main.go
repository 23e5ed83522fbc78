package main

import (
	"DeepTrace/internal/api"
	"DeepTrace/internal/config"
	"DeepTrace/internal/engine/flowtable"
	"DeepTrace/internal/engine/manager"
	"DeepTrace/internal/engine/serializer"
	"DeepTrace/internal/logging"
	"DeepTrace/internal/model"
	"DeepTrace/internal/probe"
	"DeepTrace/internal/sink"
	"DeepTrace/pkg/pcap"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

func main() {
	// --- Command-Line Flag Parsing ---
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	mode := flag.String("mode", "pub", "Operating mode: 'pub' to capture and export flows, 'sub' to subscribe and print.")
	iface := flag.String("iface", "", "Interface to capture packets from (overrides capture.interface).")
	logLevel := flag.String("loglevel", "", "Log level (overrides log.level).")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *iface != "" {
		cfg.Capture.Interface = *iface
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.WithField("mode", *mode)

	// --- Mode Dispatch ---
	switch *mode {
	case "pub":
		err = runSniffer(cfg, log)
	case "sub":
		err = runSubscriber(cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// runSniffer captures live traffic, aggregates flows and exports them to the configured sinks.
func runSniffer(cfg *config.Config, log logrus.FieldLogger) error {
	log.Infof("Starting dt-sniffer on interface: %s", cfg.Capture.Interface)

	encoder, err := serializer.New(cfg.Flow.Format)
	if err != nil {
		return err
	}
	table, err := flowtable.New(flowtable.Options{
		NumShards:  cfg.Flow.NumShards,
		MaxEntries: cfg.Flow.MaxEntries,
		Overflow:   flowtable.OverflowPolicy(cfg.Flow.OverflowPolicy),
		Encoder:    encoder,
	})
	if err != nil {
		return fmt.Errorf("failed to create flow table: %w", err)
	}

	sinks, err := sink.NewAll(cfg.Export.Sinks, log)
	if err != nil {
		return err
	}
	defer sink.CloseAll(sinks, log)
	if len(sinks) == 0 {
		log.Warn("No sinks configured, exported flows will only be logged")
	}

	reader, err := pcap.OpenLive(pcap.LiveOptions{
		Interface:   cfg.Capture.Interface,
		SnapLen:     cfg.Capture.SnapLen,
		Promiscuous: cfg.Capture.Promiscuous,
		BPFFilter:   cfg.Capture.BPFFilter,
	}, log)
	if err != nil {
		return err
	}
	defer reader.Close()

	server := api.NewServer(cfg.API.ListenAddr, cfg.API.GRPCAddr, table, log)
	if err := server.Start(); err != nil {
		return err
	}

	m := manager.NewManager(table, sinks, managerOptions(cfg), log)
	m.Start()

	ctx, cancel := context.WithCancel(context.Background())
	captureDone := make(chan struct{})
	go func() {
		defer close(captureDone)
		n, err := reader.ReadPackets(ctx, m.InputChannel())
		if err != nil {
			log.WithError(err).Error("Capture stopped")
		}
		log.Infof("Capture finished after %d packets.", n)
	}()
	server.SetServing(true)
	log.Info("Capture started successfully.")

	// Set up a channel to handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Info("Shutdown signal received, cleaning up...")
	case <-captureDone:
	}

	server.SetServing(false)
	cancel()
	<-captureDone
	m.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("API server forced to shutdown")
	}
	return nil
}

// runSubscriber subscribes to the first NATS or Redis sink and prints received records.
func runSubscriber(cfg *config.Config, log logrus.FieldLogger) error {
	log.Info("Starting dt-sniffer in SUBSCRIBER mode...")

	var target *config.SinkConfig
	for i := range cfg.Export.Sinks {
		if t := cfg.Export.Sinks[i].Type; t == "nats" || t == "redis" {
			target = &cfg.Export.Sinks[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no nats or redis sink configured to subscribe to")
	}

	sub, err := probe.NewSubscriber(*target, cfg.Flow.Format, log)
	if err != nil {
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	defer sub.Close()

	handler := func(rec *model.FeatureRecord) {
		log.WithFields(logrus.Fields{
			"flow":    fmt.Sprintf("%s:%d->%s:%d/%d", rec.SrcIP, rec.SrcPort, rec.DstIP, rec.DestinationPort, rec.Protocol),
			"packets": rec.TotalFwdPackets,
			"bytes":   rec.TotalLengthFwdPackets,
		}).Info("Received flow record")
	}
	if err := sub.Start(handler); err != nil {
		return fmt.Errorf("subscriber failed to start: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received, cleaning up...")
	return nil
}

func managerOptions(cfg *config.Config) manager.Options {
	return manager.Options{
		NumWorkers:          cfg.Capture.NumWorkers,
		SizeOfPacketChannel: cfg.Capture.SizeOfPacketChannel,
		IdleTimeout:         cfg.Flow.IdleTimeout,
		SweepInterval:       cfg.Flow.SweepInterval,
		WriteTimeout:        cfg.Export.WriteTimeout,
	}
}
