package commands

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maksimkurb/keen-dnsguard/src/internal/api"
	"github.com/maksimkurb/keen-dnsguard/src/internal/config"
	"github.com/maksimkurb/keen-dnsguard/src/internal/connectivity"
	"github.com/maksimkurb/keen-dnsguard/src/internal/lists"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
	"github.com/maksimkurb/keen-dnsguard/src/internal/session"
)

func CreateServiceCommand() *ServiceCommand {
	sc := &ServiceCommand{
		fs: flag.NewFlagSet("service", flag.ExitOnError),
	}

	sc.fs.DurationVar(&sc.Debounce, "debounce", connectivity.DefaultDebounce, "How long link changes must settle before the tunnel is rebuilt")
	sc.fs.BoolVar(&sc.NoMonitor, "no-monitor", false, "Do not watch links and routes for connectivity changes")

	return sc
}

type ServiceCommand struct {
	fs  *flag.FlagSet
	cfg *config.Config
	ctx *AppContext

	Debounce  time.Duration
	NoMonitor bool

	configHasher *config.ConfigHasher
	tracker      *api.StatusTracker
	controller   *session.Controller
	monitor      *connectivity.Monitor

	// Runners for crash isolation
	monitorRunner *RestartableRunner
	apiRunner     *RestartableRunner
}

func (s *ServiceCommand) Name() string {
	return s.fs.Name()
}

func (s *ServiceCommand) Init(args []string, ctx *AppContext) error {
	s.ctx = ctx

	if err := s.fs.Parse(args); err != nil {
		return err
	}

	if cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath); err != nil {
		return err
	} else {
		s.cfg = cfg
	}

	s.configHasher = config.NewConfigHasher(ctx.ConfigPath)
	if hash, err := s.configHasher.UpdateCurrentConfigHash(); err != nil {
		log.Warnf("Failed to calculate config hash: %v", err)
	} else {
		s.configHasher.SetActiveConfigHash(hash)
	}

	provisioner, err := newProvisioner(s.cfg)
	if err != nil {
		return err
	}

	var events <-chan connectivity.Event
	if !s.NoMonitor {
		source, err := newConnectivitySource()
		if err != nil {
			return err
		}
		s.monitor = connectivity.NewMonitor(source, s.Debounce, s.cfg.Tunnel.GetName())
		events = s.monitor.Events()
	}

	s.tracker = api.NewStatusTracker()
	s.controller = session.NewController(session.Deps{
		Provisioner: provisioner,
		Discovery:   newDiscovery(s.cfg),
		Lists:       lists.NewLoader(s.cfg),
		Upstream:    upstreamFactory(s.cfg),
		Events:      events,
		Sink:        session.MultiSink{session.LogSink{}, s.tracker},
	}, session.Options{
		Workers:       s.cfg.Dispatcher.GetWorkers(),
		QueueSize:     s.cfg.Dispatcher.GetQueueSize(),
		ShutdownGrace: s.cfg.General.GetShutdownGrace(),
		Retry:         session.FixedDelay(s.cfg.General.GetRetryDelay()),
	})

	return nil
}

func (s *ServiceCommand) Run() error {
	log.Infof("Starting keen-dnsguard service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	if s.monitor != nil {
		s.monitorRunner = NewRestartableRunner(RunnerConfig{
			Name:           "Connectivity monitor",
			RestartBackoff: 2 * time.Second,
		}, s.monitor.Run)
		if err := s.monitorRunner.Start(ctx); err != nil {
			return err
		}
	} else {
		log.Infof("Connectivity monitoring is disabled")
	}

	if s.cfg.API.IsEnabled() {
		if err := s.startAPIServer(ctx); err != nil {
			log.Errorf("Failed to start API server: %v", err)
			log.Warnf("Status API will not be available")
		}
	} else {
		log.Infof("Status API is disabled")
	}

	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- s.controller.Run(ctx)
	}()

	log.Infof("Service started successfully.")
	log.Infof("Send SIGHUP to rebuild the tunnel and reload block lists")

	var sessionErr error
loop:
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				log.Infof("Received SIGHUP, reconnecting...")
				s.reloadConfigHash()
				s.controller.Reconnect()
			default:
				log.Infof("Received signal %v, shutting down...", sig)
				cancel()
				sessionErr = <-sessionDone
				break loop
			}
		case sessionErr = <-sessionDone:
			break loop
		}
	}

	cancel()
	s.stopRunners()

	if sessionErr != nil {
		return fmt.Errorf("session failed: %w", sessionErr)
	}
	log.Infof("Service stopped")
	return nil
}

// reloadConfigHash records the hash of what a reconnect applies: the running
// configuration together with the current list contents.
func (s *ServiceCommand) reloadConfigHash() {
	hash, err := s.configHasher.CalculateHash(s.cfg)
	if err != nil {
		log.Warnf("Failed to calculate config hash: %v", err)
		return
	}
	s.configHasher.SetActiveConfigHash(hash)
}

func (s *ServiceCommand) startAPIServer(ctx context.Context) error {
	handler := api.NewHandler(s.cfg, s.controller, s.tracker, s.configHasher, api.VersionInfo{
		Version: s.ctx.Version,
		Commit:  s.ctx.Commit,
		Date:    s.ctx.Date,
	})
	server := api.NewServer(s.cfg.API.GetListen(), api.NewRouter(handler))

	s.apiRunner = NewRestartableRunner(RunnerConfig{
		Name:           "API server",
		MaxRestarts:    10,
		RestartBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}, server.Run)

	return s.apiRunner.Start(ctx)
}

func (s *ServiceCommand) stopRunners() {
	for _, runner := range []*RestartableRunner{s.apiRunner, s.monitorRunner} {
		if runner == nil {
			continue
		}
		if err := runner.Stop(); err != nil {
			log.Warnf("%v", err)
		}
	}
}
