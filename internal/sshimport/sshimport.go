// Package sshimport implements the ssh_config importer (spec.md §4.9): it
// parses a user's ssh_config file and synthesizes bookmarks plus SSH key
// registry entries in one pass.
package sshimport

import (
	"os"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
	"github.com/kevinburke/ssh_config"
	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"

	"github.com/veeso/termscp-sub002/internal/params"
	"github.com/veeso/termscp-sub002/internal/store"
)

// Result summarizes what Import did, mainly for the CLI's human-readable
// report after `import-ssh-hosts` runs.
type Result struct {
	BookmarksAdded []string
	KeysImported   []string
}

// Import parses the ssh_config file at path (tilde-expanded) and adds one
// bookmark per non-negated, non-wildcard Host pattern, plus an SSH key
// registry entry for every such host that declares both a User and a
// readable IdentityFile.
// Bookmarks are persisted on success; the key registry is persisted by
// cfg.AddSSHKey's own calls.
func Import(path string, bookmarks *store.BookmarksStore, cfg *store.ConfigStore) (Result, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return Result{}, trace.Wrap(err)
	}

	f, err := os.Open(expanded)
	if err != nil {
		return Result{}, trace.Wrap(err, "opening ssh config %s", expanded)
	}
	defer f.Close()

	cfgTree, err := ssh_config.Decode(f)
	if err != nil {
		return Result{}, trace.Wrap(err, "parsing ssh config %s", expanded)
	}

	l := log.WithField(trace.Component, "sshimport")
	var result Result

	for _, host := range cfgTree.Hosts {
		for _, pattern := range host.Patterns {
			name := pattern.String()
			if isNegatedOrWildcard(name) {
				continue
			}

			hostname, port, user, identityFile := hostFields(host)
			if hostname == "" {
				hostname = name
			}
			if port == 0 {
				port = 22
			}

			ftp, err := params.NewFileTransferParams(params.ProtocolSFTP, params.ConnectionParams{
				Generic: &params.Generic{Address: hostname, Port: port, Username: user},
			})
			if err != nil {
				l.WithError(err).Warnf("skipping host %s: invalid params", name)
				continue
			}
			if err := bookmarks.AddBookmark(name, ftp, false); err != nil {
				l.WithError(err).Warnf("skipping host %s: could not add bookmark", name)
				continue
			}
			result.BookmarksAdded = append(result.BookmarksAdded, name)

			if identityFile != "" && user != "" {
				keyPath, err := homedir.Expand(identityFile)
				if err != nil {
					l.WithError(err).Warnf("host %s: could not expand identity file path", name)
					continue
				}
				material, err := os.ReadFile(keyPath)
				if err != nil {
					l.WithError(err).Warnf("host %s: could not read identity file %s", name, keyPath)
					continue
				}
				if err := cfg.AddSSHKey(hostname, user, string(material)); err != nil {
					l.WithError(err).Warnf("host %s: could not register ssh key", name)
					continue
				}
				result.KeysImported = append(result.KeysImported, user+"@"+hostname)
			}
		}
	}

	if err := bookmarks.Write(); err != nil {
		return result, trace.Wrap(err)
	}
	return result, nil
}

func isNegatedOrWildcard(pattern string) bool {
	return strings.HasPrefix(pattern, "!") || strings.ContainsAny(pattern, "*?")
}

func hostFields(host *ssh_config.Host) (hostname string, port int, user, identityFile string) {
	for _, node := range host.Nodes {
		kv, ok := node.(*ssh_config.KV)
		if !ok {
			continue
		}
		switch strings.ToLower(kv.Key) {
		case "hostname":
			hostname = kv.Value
		case "port":
			if p, err := strconv.Atoi(kv.Value); err == nil {
				port = p
			}
		case "user":
			user = kv.Value
		case "identityfile":
			identityFile = kv.Value
		}
	}
	return
}
