// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Resolver manages DNS resolver entries by rewriting a resolv.conf
// style file. The original file content is backed up before the first
// entry is written and restored when the last entry is removed, so a
// fully unwound service leaves the host resolver untouched.
//
// Entries are reference-counted: two sessions adding the same server
// each hold one reference, and the server stays configured until both
// are removed.
type Resolver struct {
	mu sync.Mutex

	// path is the resolver file, normally /etc/resolv.conf.
	path string

	// backupPath holds the pre-service file content while any entry
	// is active.
	backupPath string

	// servers and domains count references per entry; order preserves
	// first insertion so the generated file is deterministic.
	servers      map[string]int
	domains      map[string]int
	serverOrder  []string
	domainOrder  []string
	hadOriginal  bool
	backupActive bool
}

// NewResolver returns a resolver backend writing to path.
func NewResolver(path string) *Resolver {
	return &Resolver{
		path:       path,
		backupPath: path + ".netcfgd-saved",
		servers:    make(map[string]int),
		domains:    make(map[string]int),
	}
}

// Add registers a search domain and/or a DNS server and rewrites the
// resolver file. Either argument may be empty.
func (r *Resolver) Add(domain, server string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.backupLocked(); err != nil {
		return err
	}

	if server != "" {
		if r.servers[server] == 0 {
			r.serverOrder = append(r.serverOrder, server)
		}
		r.servers[server]++
	}
	if domain != "" {
		if r.domains[domain] == 0 {
			r.domainOrder = append(r.domainOrder, domain)
		}
		r.domains[domain]++
	}

	return r.rewriteLocked()
}

// Remove drops one reference to a search domain and/or DNS server.
// Removing an entry that is not present is success: external
// interference or a prior partial failure is indistinguishable from a
// completed removal. When the last entry goes, the original file is
// restored.
func (r *Resolver) Remove(domain, server string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if server != "" && r.servers[server] > 0 {
		r.servers[server]--
		if r.servers[server] == 0 {
			delete(r.servers, server)
			r.serverOrder = removeString(r.serverOrder, server)
		}
	}
	if domain != "" && r.domains[domain] > 0 {
		r.domains[domain]--
		if r.domains[domain] == 0 {
			delete(r.domains, domain)
			r.domainOrder = removeString(r.domainOrder, domain)
		}
	}

	if len(r.servers) == 0 && len(r.domains) == 0 {
		return r.restoreLocked()
	}
	return r.rewriteLocked()
}

// Active reports whether any resolver entry is currently configured.
func (r *Resolver) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.servers) > 0 || len(r.domains) > 0
}

// backupLocked saves the pre-service file content once, before the
// first rewrite.
func (r *Resolver) backupLocked() error {
	if r.backupActive {
		return nil
	}
	data, err := os.ReadFile(r.path)
	switch {
	case err == nil:
		if err := writeFileAtomic(r.backupPath, data, 0644); err != nil {
			return fmt.Errorf("backing up %s: %w", r.path, err)
		}
		r.hadOriginal = true
	case os.IsNotExist(err):
		r.hadOriginal = false
	default:
		return fmt.Errorf("reading %s for backup: %w", r.path, err)
	}
	r.backupActive = true
	return nil
}

// restoreLocked puts the original file back (or removes the generated
// one if none existed) and drops the backup.
func (r *Resolver) restoreLocked() error {
	if !r.backupActive {
		return nil
	}
	if r.hadOriginal {
		if err := os.Rename(r.backupPath, r.path); err != nil {
			return fmt.Errorf("restoring %s: %w", r.path, err)
		}
	} else {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing generated %s: %w", r.path, err)
		}
		if err := os.Remove(r.backupPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing backup of %s: %w", r.path, err)
		}
	}
	r.backupActive = false
	r.hadOriginal = false
	return nil
}

// rewriteLocked generates the resolver file from the current entries.
func (r *Resolver) rewriteLocked() error {
	var content strings.Builder
	content.WriteString("# Generated by netcfgd - do not edit\n")
	if len(r.domainOrder) > 0 {
		content.WriteString("search")
		for _, domain := range r.domainOrder {
			content.WriteString(" ")
			content.WriteString(domain)
		}
		content.WriteString("\n")
	}
	for _, server := range r.serverOrder {
		content.WriteString("nameserver ")
		content.WriteString(server)
		content.WriteString("\n")
	}

	if err := writeFileAtomic(r.path, []byte(content.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", r.path, err)
	}
	return nil
}

// Entries returns the configured servers and domains, sorted, for
// diagnostics and tests.
func (r *Resolver) Entries() (servers, domains []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	servers = append(servers, r.serverOrder...)
	domains = append(domains, r.domainOrder...)
	sort.Strings(servers)
	sort.Strings(domains)
	return servers, domains
}

func removeString(list []string, value string) []string {
	result := list[:0]
	for _, entry := range list {
		if entry != value {
			result = append(result, entry)
		}
	}
	return result
}

// writeFileAtomic writes data to path via a temporary file, fsync, and
// rename, so readers never see a partial file. The parent directory is
// synced so the rename survives power loss.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming into place: %w", err)
	}

	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
