// Package sshkeys extracts SSH public keys injected into a session's
// authorized_keys file via a shell command, used both inline by the delta
// loader and by the standalone backfill operation.
package sshkeys

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"
)

// Key is one SSH public key found in a command string.
type Key struct {
	Algorithm string
	KeyData   string // base64-encoded key material, as it appeared in the command
	Comment   string
	KeyHash   string // colon-separated hex MD5 of the decoded key material, e.g. "aa:bb:..."
}

var keyPattern = regexp.MustCompile(`(ssh-(?:rsa|dss|ed25519)|ecdsa-sha2-nistp(?:256|384|521))\s+([A-Za-z0-9+/=]+)(?:\s+(\S+))?`)

// ExtractKeysFromCommand scans a shell command string for SSH public keys,
// as typically injected via `echo '<key>' >> ~/.ssh/authorized_keys` or
// similar. Returns one Key per distinct match; malformed base64 key
// material is skipped rather than erroring, since the caller must not let
// a bad key block ingestion.
func ExtractKeysFromCommand(command string) []Key {
	if !strings.Contains(command, "authorized_keys") {
		return nil
	}

	matches := keyPattern.FindAllStringSubmatch(command, -1)
	if matches == nil {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	keys := make([]Key, 0, len(matches))
	for _, m := range matches {
		algo, data, comment := m[1], m[2], m[3]
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			continue
		}
		hash := fingerprint(decoded)
		if seen[hash] {
			continue
		}
		seen[hash] = true
		keys = append(keys, Key{
			Algorithm: algo,
			KeyData:   data,
			Comment:   comment,
			KeyHash:   hash,
		})
	}
	return keys
}

// fingerprint computes the classic colon-separated hex MD5 fingerprint of
// decoded SSH key material (the same form `ssh-keygen -lf` historically
// printed), used as the stable identity for unique_ssh_keys.
func fingerprint(decoded []byte) string {
	sum := md5.Sum(decoded)
	hexStr := hex.EncodeToString(sum[:])
	parts := make([]string, 0, len(hexStr)/2)
	for i := 0; i < len(hexStr); i += 2 {
		parts = append(parts, hexStr[i:i+2])
	}
	return strings.Join(parts, ":")
}
