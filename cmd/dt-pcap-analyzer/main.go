package main

import (
	"DeepTrace/internal/config"
	"DeepTrace/internal/engine/flowtable"
	"DeepTrace/internal/engine/manager"
	"DeepTrace/internal/engine/serializer"
	"DeepTrace/internal/logging"
	"DeepTrace/internal/sink"
	"DeepTrace/pkg/pcap"
	"context"
	"flag"
	"fmt"
	"os"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config file] <path_to_pcap_file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// 1. Get pcap file path from command-line arguments
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	// 2. Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
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
	log := logger.WithField("file", pcapFilePath)
	log.Info("Configuration loaded successfully.")

	// 3. Initialize modules
	encoder, err := serializer.New(cfg.Flow.Format)
	if err != nil {
		log.Fatal(err)
	}
	table, err := flowtable.New(flowtable.Options{
		NumShards:  cfg.Flow.NumShards,
		MaxEntries: cfg.Flow.MaxEntries,
		Overflow:   flowtable.OverflowPolicy(cfg.Flow.OverflowPolicy),
		Encoder:    encoder,
	})
	if err != nil {
		log.Fatalf("Failed to create flow table: %v", err)
	}
	sinks, err := sink.NewAll(cfg.Export.Sinks, log)
	if err != nil {
		log.Fatalf("Failed to create sinks: %v", err)
	}
	defer sink.CloseAll(sinks, log)

	pcapReader, err := pcap.OpenFile(pcapFilePath, log)
	if err != nil {
		log.Fatalf("Failed to open pcap file: %v", err)
	}
	defer pcapReader.Close()

	// Capture timestamps drive the idle timeout, not the wall clock.
	m := manager.NewManager(table, sinks, manager.Options{
		NumWorkers:          cfg.Capture.NumWorkers,
		SizeOfPacketChannel: cfg.Capture.SizeOfPacketChannel,
		IdleTimeout:         cfg.Flow.IdleTimeout,
		SweepInterval:       cfg.Flow.SweepInterval,
		WriteTimeout:        cfg.Export.WriteTimeout,
		PacketClock:         true,
	}, log)

	// 4. Start the processing pipeline
	m.Start()
	log.Infof("Reading packets from '%s'...", pcapFilePath)

	// 5. Start reading packets and feeding them to the manager
	n, err := pcapReader.ReadPackets(context.Background(), m.InputChannel())
	if err != nil {
		log.WithError(err).Error("Reading stopped early")
	}
	log.Infof("Finished reading %d packets from pcap file.", n)

	// 6. Graceful shutdown flushes every remaining flow
	m.Stop()
	log.Info("Shutdown complete.")
}
