// Package log provides simple leveled logging for keen-dnsguard.
//
// Levels are DEBUG, INFO, WARN and ERROR. DEBUG lines are printed only in
// verbose mode, which the service enables with the -verbose flag. ERROR lines
// go to stderr, everything else to stdout unless SetForceStdErr is set.
//
//	log.Infof("Tunnel %s is up", name)
//	log.Debugf("[%04x] DNS query: %s", id, name)
//
// Query workers log concurrently, so every line is written with a single
// Write call under a mutex.
package log
