package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/lora-packet-multiplexer/internal/config"
	"github.com/brocaar/lora-packet-multiplexer/internal/forwarder"
	"github.com/brocaar/lora-packet-multiplexer/internal/listener"
	"github.com/brocaar/lora-packet-multiplexer/internal/metrics"
	"github.com/brocaar/lora-packet-multiplexer/internal/tracing"
)

var lst *listener.Listener
var fwd *forwarder.Forwarder
var downlinkTx chan<- listener.Frame
var uplinkRx <-chan listener.Frame

func run(cmd *cobra.Command, args []string) error {
	tasks := []func() error{
		setLogLevel,
		printStartMessage,
		setupTracing,
		setupListener,
		setupForwarder,
		setupMetrics,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received")
	log.Warning("shutting down multiplexer")

	fwd.Close()
	lst.Close()
	tracing.Close()

	return nil
}

func setLogLevel() error {
	level, err := log.ParseLevel(config.C.Logging.Level)
	if err != nil {
		return errors.Wrap(err, "parse log level error")
	}
	log.SetLevel(level)
	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version": version,
		"docs":    "https://www.loraserver.io/lora-gateway-bridge/",
	}).Info("starting LoRa packet multiplexer")
	return nil
}

func setupTracing() error {
	if err := tracing.Setup("lora-packet-multiplexer", config.C.Tracing.Enabled, config.C.Tracing.JaegerEndpoint); err != nil {
		return errors.Wrap(err, "setup tracing error")
	}
	return nil
}

func setupListener() error {
	tx, rx, l, err := listener.Setup(config.C.Multiplexer.Bind)
	if err != nil {
		return errors.Wrap(err, "setup listener error")
	}
	lst = l
	downlinkTx = tx
	uplinkRx = rx
	return nil
}

func setupForwarder() error {
	f, err := forwarder.Setup(downlinkTx, uplinkRx, config.C.Multiplexer.Servers)
	if err != nil {
		return errors.Wrap(err, "setup forwarder error")
	}
	fwd = f
	return nil
}

func setupMetrics() error {
	if config.C.Monitoring.Bind != "" {
		metrics.Serve(config.C.Monitoring.Bind)
	}
	return nil
}
