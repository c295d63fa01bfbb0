package commands

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/maksimkurb/keen-dnsguard/src/internal/config"
	"github.com/maksimkurb/keen-dnsguard/src/internal/lists"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
)

func CreateDownloadCommand() *DownloadCommand {
	gc := &DownloadCommand{
		fs: flag.NewFlagSet("download", flag.ExitOnError),
	}
	return gc
}

type DownloadCommand struct {
	fs  *flag.FlagSet
	cfg *config.Config
}

func (g *DownloadCommand) Name() string {
	return g.fs.Name()
}

func (g *DownloadCommand) Init(args []string, ctx *AppContext) error {
	if err := g.fs.Parse(args); err != nil {
		return err
	}

	if cfg, err := loadConfigOrFail(ctx.ConfigPath); err != nil {
		return err
	} else {
		g.cfg = cfg
	}

	return nil
}

func (g *DownloadCommand) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	changed, err := lists.DownloadLists(ctx, g.cfg)
	log.Infof("%d list(s) updated", changed)
	if changed > 0 {
		log.Infof("Send SIGHUP to the running service to reload the lists")
	}
	return err
}
