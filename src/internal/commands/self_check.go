package commands

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/maksimkurb/keen-dnsguard/src/internal/blocklist"
	"github.com/maksimkurb/keen-dnsguard/src/internal/config"
	"github.com/maksimkurb/keen-dnsguard/src/internal/lists"
	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
	"github.com/maksimkurb/keen-dnsguard/src/internal/tunnel"
)

func CreateSelfCheckCommand() *SelfCheckCommand {
	gc := &SelfCheckCommand{
		fs:  flag.NewFlagSet("self-check", flag.ExitOnError),
		out: os.Stdout,
	}
	return gc
}

type SelfCheckCommand struct {
	fs  *flag.FlagSet
	ctx *AppContext
	cfg *config.Config
	out io.Writer
}

func (g *SelfCheckCommand) Name() string {
	return g.fs.Name()
}

func (g *SelfCheckCommand) Init(args []string, ctx *AppContext) error {
	g.ctx = ctx

	if err := g.fs.Parse(args); err != nil {
		return err
	}

	if cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath); err != nil {
		return err
	} else {
		g.cfg = cfg
	}

	return nil
}

func (g *SelfCheckCommand) Run() error {
	log.Infof("Running self-check...")
	log.Infof("---------------- Configuration START -----------------")

	if cfg, err := g.cfg.SerializeConfig(); err != nil {
		log.Errorf("Failed to serialize config: %v", err)
		return err
	} else if _, err := g.out.Write(cfg.Bytes()); err != nil {
		log.Errorf("Failed to output config: %v", err)
		return err
	}

	log.Infof("----------------- Configuration END ------------------")

	failures := 0
	if !g.checkLists() {
		failures++
	}
	if !g.checkUpstreams() {
		failures++
	}
	g.checkCaptureRules()

	if failures > 0 {
		log.Errorf("Self-check completed with %d failed check(s)", failures)
		return fmt.Errorf("self-check failed")
	}

	log.Infof("Self-check completed successfully")
	return nil
}

// checkLists loads every list on its own so a broken list is named.
func (g *SelfCheckCommand) checkLists() bool {
	ok := true
	total := 0
	for _, list := range g.cfg.Lists {
		source, err := lists.SourceFor(g.cfg, list)
		if err != nil {
			log.Errorf("[list %s] %v", list.ListName, err)
			ok = false
			continue
		}
		bl, err := blocklist.Load(source)
		if err != nil {
			log.Errorf("[list %s] Failed to load: %v", list.ListName, err)
			ok = false
			continue
		}
		log.Infof("[list %s] %d host(s) (%s)", list.ListName, bl.Len(), list.Type())
		total += bl.Len()
	}

	if ok {
		log.Infof("Block lists loaded: %d host(s) in %d list(s)", total, len(g.cfg.Lists))
	}
	return ok
}

func (g *SelfCheckCommand) checkUpstreams() bool {
	servers, err := newDiscovery(g.cfg).Discover()
	if err != nil {
		log.Errorf("Upstream discovery failed: %v", err)
		return false
	}
	for i, server := range servers {
		marker := ""
		if i == 0 {
			marker = " (primary)"
		}
		log.Infof("Upstream resolver: %s%s", server, marker)
	}
	return true
}

// checkCaptureRules prints the rendered rules and whether they are
// installed. A stopped service has none, so this never fails the check.
func (g *SelfCheckCommand) checkCaptureRules() {
	opts := tunnelOptions(g.cfg)
	if !opts.CaptureDNS {
		log.Infof("DNS capture is disabled")
		return
	}

	rules, err := tunnel.NewCaptureRules(opts)
	if err != nil {
		log.Warnf("Cannot inspect capture rules: %v", err)
		return
	}

	present, err := rules.Check()
	if err != nil {
		log.Warnf("Cannot inspect capture rules: %v", err)
		present = nil
	}
	for _, rule := range rules.Rules() {
		log.Infof("Capture rule [%s] installed=%v", rule, present[rule.String()])
	}
}
