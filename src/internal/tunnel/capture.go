package tunnel

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/coreos/go-iptables/iptables"
	"github.com/valyala/fasttemplate"

	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
)

// Placeholders available in user capture rules, written as {{name}}.
const (
	TemplateDNSAddr = "dns_addr"
	TemplateFwMark  = "fwmark"
	TemplateTun     = "tun"
)

// captureChainName is the nat chain holding the DNS redirection rules.
const captureChainName = "KEEN_DNSGUARD"

// iptablesClient is the subset of *iptables.IPTables used for capture rules.
type iptablesClient interface {
	ChainExists(table, chain string) (bool, error)
	NewChain(table, chain string) error
	ClearChain(table, chain string) error
	DeleteChain(table, chain string) error
	AppendUnique(table, chain string, rulespec ...string) error
	InsertUnique(table, chain string, pos int, rulespec ...string) error
	DeleteIfExists(table, chain string, rulespec ...string) error
	Exists(table, chain string, rulespec ...string) (bool, error)
}

// CaptureRules redirects host DNS traffic (udp/53) to the tunnel DNS address.
// Sockets carrying the protect fwmark are left alone so forwarded queries
// reach the real resolvers.
type CaptureRules struct {
	ipt   iptablesClient
	rules []Rule
}

// NewCaptureRules renders the capture rules for opts.
func NewCaptureRules(opts Options) (*CaptureRules, error) {
	ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("failed to create iptables (IPv4): %w", err)
	}
	return newCaptureRules(ipt, opts), nil
}

func newCaptureRules(ipt iptablesClient, opts Options) *CaptureRules {
	templates := opts.CaptureRules
	if len(templates) == 0 {
		templates = defaultCaptureRules(opts.ProtectFwMark != 0)
	}

	vars := map[string]interface{}{
		TemplateDNSAddr: opts.DNSAddress.String(),
		TemplateFwMark:  strconv.FormatUint(uint64(opts.ProtectFwMark), 10),
		TemplateTun:     opts.Name,
	}

	rules := make([]Rule, len(templates))
	for i, tmpl := range templates {
		parts := make([]string, len(tmpl.Rule))
		for j, part := range tmpl.Rule {
			parts[j] = renderRulePart(part, vars)
		}
		rules[i] = Rule{
			Table: renderRulePart(tmpl.Table, vars),
			Chain: renderRulePart(tmpl.Chain, vars),
			Rule:  parts,
		}
	}

	return &CaptureRules{ipt: ipt, rules: rules}
}

// defaultCaptureRules DNATs locally generated and forwarded DNS to the
// tunnel. Loopback resolvers are skipped; their own upstream queries are
// captured instead.
func defaultCaptureRules(withMark bool) []Rule {
	dnat := []string{"-p", "udp", "--dport", "53", "!", "-d", "127.0.0.0/8"}
	if withMark {
		dnat = append(dnat, "-m", "mark", "!", "--mark", "{{fwmark}}")
	}
	dnat = append(dnat, "-j", "DNAT", "--to-destination", "{{dns_addr}}")

	return []Rule{
		{Table: "nat", Chain: captureChainName, Rule: dnat},
		{Table: "nat", Chain: "OUTPUT", Rule: []string{"-j", captureChainName}},
		{Table: "nat", Chain: "PREROUTING", Rule: []string{"!", "-i", "{{tun}}", "-j", captureChainName}},
	}
}

// CheckTemplate reports a rule part with unbalanced delimiters or an unknown
// placeholder.
func CheckTemplate(part string) error {
	if !strings.Contains(part, "{{") && !strings.Contains(part, "}}") {
		return nil
	}

	t, err := fasttemplate.NewTemplate(part, "{{", "}}")
	if err != nil {
		return err
	}

	var unknown []string
	t.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		switch tag {
		case TemplateDNSAddr, TemplateFwMark, TemplateTun:
		default:
			unknown = append(unknown, tag)
		}
		return 0, nil
	})
	if len(unknown) > 0 {
		return fmt.Errorf("unknown placeholder(s) {{%s}}", strings.Join(unknown, "}}, {{"))
	}
	return nil
}

func renderRulePart(template string, vars map[string]interface{}) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	t := fasttemplate.New(template, "{{", "}}")
	return t.ExecuteString(vars)
}

// Rules returns the rendered rules.
func (c *CaptureRules) Rules() []Rule {
	return c.rules
}

// Apply creates missing chains and rules. Jumps into built-in chains are
// inserted first so they take effect before existing DNAT rules.
func (c *CaptureRules) Apply() error {
	for _, rule := range c.rules {
		if isBuiltinChain(rule.Chain) {
			continue
		}
		exists, err := c.ipt.ChainExists(rule.Table, rule.Chain)
		if err != nil {
			return fmt.Errorf("failed to check chain %s/%s: %w", rule.Table, rule.Chain, err)
		}
		if !exists {
			log.Debugf("Creating iptables chain %s/%s", rule.Table, rule.Chain)
			if err := c.ipt.NewChain(rule.Table, rule.Chain); err != nil {
				return fmt.Errorf("failed to create chain %s/%s: %w", rule.Table, rule.Chain, err)
			}
		}
	}

	for _, rule := range c.rules {
		log.Infof("Adding iptables rule [%s]", rule)
		var err error
		if isBuiltinChain(rule.Chain) {
			err = c.ipt.InsertUnique(rule.Table, rule.Chain, 1, rule.Rule...)
		} else {
			err = c.ipt.AppendUnique(rule.Table, rule.Chain, rule.Rule...)
		}
		if err != nil {
			return fmt.Errorf("failed to add iptables rule [%s]: %w", rule, err)
		}
	}

	return nil
}

// Remove deletes the rules in reverse order and drops the chains it created.
// Failures are logged; removal is best effort.
func (c *CaptureRules) Remove() error {
	var errs []error
	for i := len(c.rules) - 1; i >= 0; i-- {
		rule := c.rules[i]
		log.Infof("Deleting iptables rule [%s]", rule)
		if err := c.ipt.DeleteIfExists(rule.Table, rule.Chain, rule.Rule...); err != nil {
			log.Debugf("Failed to delete iptables rule [%s]: %v", rule, err)
			errs = append(errs, err)
		}
	}

	seen := make(map[string]bool)
	for _, rule := range c.rules {
		key := rule.Table + "/" + rule.Chain
		if isBuiltinChain(rule.Chain) || seen[key] {
			continue
		}
		seen[key] = true

		if err := c.ipt.ClearChain(rule.Table, rule.Chain); err != nil {
			log.Debugf("Failed to clear chain %s: %v", key, err)
		}
		if err := c.ipt.DeleteChain(rule.Table, rule.Chain); err != nil {
			log.Debugf("Failed to delete chain %s: %v", key, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during capture rules cleanup: %v", errs)
	}
	return nil
}

// Check reports which rules are currently installed.
func (c *CaptureRules) Check() (map[string]bool, error) {
	present := make(map[string]bool, len(c.rules))
	for _, rule := range c.rules {
		exists, err := c.ipt.Exists(rule.Table, rule.Chain, rule.Rule...)
		if err != nil {
			return nil, fmt.Errorf("failed to check iptables rule [%s]: %w", rule, err)
		}
		log.Debugf("Checking iptables rule presence [%s]: exists=%v", rule, exists)
		present[rule.String()] = exists
	}
	return present, nil
}

func (r Rule) String() string {
	return fmt.Sprintf("-t %s -A %s %s", r.Table, r.Chain, strings.Join(r.Rule, " "))
}

func isBuiltinChain(chain string) bool {
	switch chain {
	case "PREROUTING", "INPUT", "FORWARD", "OUTPUT", "POSTROUTING":
		return true
	}
	return false
}
