// coolctld is the cooling control daemon. It reads an INI-style machine
// config describing fans, sensors and pins, drives the hardware through
// sysfs PWM and the gpio character device, and serves status and commands
// over HTTP and WebSocket.
//
// Usage:
//
//	coolctld -config /etc/coolctl/machine.cfg [options]
//
// Options:
//
//	-config string    Machine configuration file (required)
//	-settings string  Daemon settings YAML file
//	-addr string      API listen address (overrides settings)
//	-sim              Use simulated hardware backends
//	-debug            Force debug logging
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"coolctl/pkg/api"
	"coolctl/pkg/config"
	"coolctl/pkg/engine"
	"coolctl/pkg/hw"
	"coolctl/pkg/logging"
	"coolctl/pkg/metrics"
	"coolctl/pkg/reactor"
)

func main() {
	configFile := flag.String("config", "", "Machine configuration file (required)")
	settingsFile := flag.String("settings", "", "Daemon settings YAML file")
	addr := flag.String("addr", "", "API listen address (overrides settings)")
	sim := flag.Bool("sim", false, "Use simulated hardware backends")
	debug := flag.Bool("debug", false, "Force debug logging")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -config is required")
		flag.Usage()
		os.Exit(1)
	}

	settings := DefaultSettings()
	if *settingsFile != "" {
		var err error
		settings, err = LoadSettings(*settingsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading settings: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		settings.API.Addr = *addr
	}
	if *sim {
		settings.Hardware.Simulated = true
	}
	if *debug {
		settings.Logging.Level = "debug"
	}

	log := logging.New(settings.Logging)
	defer log.Sync()

	if err := run(settings, *configFile, log); err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
}

func run(settings Settings, configFile string, log *zap.Logger) error {
	if settings.PidFile != "" {
		release, err := acquirePidFile(settings.PidFile)
		if err != nil {
			return err
		}
		defer release()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	var opener hw.Opener
	if settings.Hardware.Simulated {
		log.Info("using simulated hardware")
		opener = &hw.SimOpener{Log: log}
	} else {
		opener = &hw.SystemOpener{Chip: settings.Hardware.GPIOChip}
	}

	m := metrics.NewFanMetrics()
	r := reactor.New()
	eng, err := engine.Build(cfg, r, engine.Options{Opener: opener, Log: log, Metrics: m})
	if err != nil {
		return err
	}
	if err := eng.Connect(); err != nil {
		eng.Close()
		return err
	}
	r.Run()
	log.Info("coolctld running", zap.String("config", configFile))

	var server *api.Server
	if settings.API.Addr != "" {
		server = api.New(settings.API.Addr, eng, log)
		server.MountMetrics(m.Handler())
		go func() {
			if err := server.Start(); err != nil {
				log.Error("api server failed", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	if server != nil {
		_ = server.Stop()
	}
	eng.OnRestart()
	eng.Close()
	r.End()
	r.Wait()
	log.Info("coolctld stopped")
	return nil
}
