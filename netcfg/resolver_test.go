// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package netcfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resolverFixture(t *testing.T, original string) (*Resolver, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resolv.conf")
	if original != "" {
		if err := os.WriteFile(path, []byte(original), 0644); err != nil {
			t.Fatalf("writing original file: %v", err)
		}
	}
	return NewResolver(path), path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestResolverBackupAndRestore(t *testing.T) {
	original := "nameserver 192.168.1.1\n"
	resolver, path := resolverFixture(t, original)

	if err := resolver.Add("example.com", "10.8.0.1"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	content := readFile(t, path)
	if !strings.Contains(content, "nameserver 10.8.0.1") {
		t.Errorf("generated file missing nameserver:\n%s", content)
	}
	if !strings.Contains(content, "search example.com") {
		t.Errorf("generated file missing search line:\n%s", content)
	}
	if got := readFile(t, path+".netcfgd-saved"); got != original {
		t.Errorf("backup = %q, want the original content", got)
	}

	if err := resolver.Remove("example.com", "10.8.0.1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := readFile(t, path); got != original {
		t.Errorf("restored file = %q, want %q", got, original)
	}
	if _, err := os.Stat(path + ".netcfgd-saved"); !os.IsNotExist(err) {
		t.Error("backup file still present after restore")
	}
	if resolver.Active() {
		t.Error("resolver still active after last removal")
	}
}

func TestResolverNoOriginalFile(t *testing.T) {
	resolver, path := resolverFixture(t, "")

	if err := resolver.Add("", "10.8.0.1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := resolver.Remove("", "10.8.0.1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// No original existed, so the generated file is removed rather
	// than replaced.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("resolver file still present, Stat error = %v", err)
	}
}

func TestResolverReferenceCounting(t *testing.T) {
	resolver, path := resolverFixture(t, "nameserver 192.168.1.1\n")

	// Two sessions add the same server.
	if err := resolver.Add("", "10.8.0.1"); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := resolver.Add("", "10.8.0.1"); err != nil {
		t.Fatalf("second Add: %v", err)
	}

	// One removal leaves the server configured.
	if err := resolver.Remove("", "10.8.0.1"); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if !strings.Contains(readFile(t, path), "nameserver 10.8.0.1") {
		t.Error("server gone after one of two removals")
	}

	if err := resolver.Remove("", "10.8.0.1"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if resolver.Active() {
		t.Error("resolver active after final removal")
	}
}

func TestResolverRemoveAbsentIsSuccess(t *testing.T) {
	resolver, _ := resolverFixture(t, "nameserver 192.168.1.1\n")

	if err := resolver.Remove("nowhere.example", "10.99.0.1"); err != nil {
		t.Fatalf("Remove of absent entry: %v", err)
	}
	if resolver.Active() {
		t.Error("resolver active after removing nothing")
	}
}

func TestResolverFileOrdering(t *testing.T) {
	resolver, path := resolverFixture(t, "")

	if err := resolver.Add("corp.example", "10.8.0.1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := resolver.Add("lab.example", "10.8.0.2"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	content := readFile(t, path)
	want := "# Generated by netcfgd - do not edit\n" +
		"search corp.example lab.example\n" +
		"nameserver 10.8.0.1\n" +
		"nameserver 10.8.0.2\n"
	if content != want {
		t.Errorf("generated file:\n%s\nwant:\n%s", content, want)
	}

	servers, domains := resolver.Entries()
	if len(servers) != 2 || len(domains) != 2 {
		t.Errorf("Entries = %v, %v, want two of each", servers, domains)
	}
}
