// Package hashing provides MD5 checksums for list change detection.
//
// Reader hashes a stream while it is consumed, so a download can be written
// to disk and fingerprinted in a single pass:
//
//	r := hashing.NewMD5Reader(resp.Body)
//	content, _ := io.ReadAll(r)
//	fmt.Printf("Downloaded %d bytes, MD5: %s\n", len(content), r.Checksum())
//
// FileChecksum and LinesChecksum fingerprint list files and inline host
// lists for the configuration hash reported by the status API.
package hashing
