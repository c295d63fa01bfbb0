// Package config handles configuration file parsing and validation for keen-dnsguard.
//
// The configuration is a TOML file with these sections:
//   - [general]: lists output directory, session retry delay, shutdown grace period
//   - [tunnel]: TUN name, address, DNS address, routed prefixes, DNS capture rules
//   - [upstream]: static resolvers or the resolv.conf used for discovery, query timeout
//   - [dispatcher]: worker count and queue size
//   - [api]: status API listener
//   - [[list]]: hosts-format blocklists from a URL, a file or inline hosts
//
// Every optional field has a getter that applies the default, so callers never
// see zero values:
//
//	cfg, err := config.LoadConfig("/opt/etc/keen-dnsguard/keen-dnsguard.conf")
//	if err != nil {
//	    log.Fatalf("%v", err)
//	}
//	if err := cfg.ValidateConfig(); err != nil {
//	    log.Fatalf("%v", err)
//	}
//	fmt.Println(cfg.Tunnel.GetAddress(), cfg.Dispatcher.GetWorkers())
package config
