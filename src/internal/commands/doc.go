// Package commands implements CLI command handlers for keen-dnsguard.
//
// Each command implements the Runner interface:
//   - Init(): parse arguments and load the configuration
//   - Run(): execute the command
//   - Name(): return the command name for routing
//
// # Available Commands
//
//   - service: run the DNS interception session until SIGINT/SIGTERM;
//     SIGHUP rebuilds the tunnel and reloads the block lists
//   - download: download URL lists into lists_output_dir
//   - self-check: validate the configuration, load the lists and discover
//     upstream resolvers without touching the network configuration
//
// # Example Usage
//
//	cmd := commands.CreateDownloadCommand()
//	ctx := &commands.AppContext{ConfigPath: "/opt/etc/keen-dnsguard/keen-dnsguard.conf"}
//	if err := cmd.Init(nil, ctx); err != nil {
//	    log.Fatalf("%v", err)
//	}
//	if err := cmd.Run(); err != nil {
//	    log.Fatalf("%v", err)
//	}
package commands
