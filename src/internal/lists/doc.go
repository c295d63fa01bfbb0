// Package lists turns the configured block lists into block list sources and
// downloads remote lists.
//
// # List Sources
//
// Lists can be sourced from:
//
//   - Remote URLs: downloaded by the download command into lists_output_dir
//   - Local files: read from filesystem paths relative to the config file
//   - Inline hosts: defined directly in configuration
//
// All sources use the hosts-file format understood by the blocklist package.
//
// # Change Detection
//
// Every downloaded list is stored with an MD5 checksum next to it
// (<name>.lst.md5). A download whose checksum matches the stored one leaves
// the file untouched.
package lists
