// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package privilege

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func TestCapabilityBit(t *testing.T) {
	tests := []struct {
		capability Capability
		wantIndex  int
		wantBit    uint32
	}{
		{Capability(0), 0, 1},
		{NetAdmin, 0, 1 << unix.CAP_NET_ADMIN},
		{Capability(31), 0, 1 << 31},
		{Capability(32), 1, 1},
		{Capability(37), 1, 1 << 5},
	}
	for _, test := range tests {
		index, bit := capabilityBit(test.capability)
		if index != test.wantIndex || bit != test.wantBit {
			t.Errorf("capabilityBit(%d) = (%d, %#x), want (%d, %#x)",
				test.capability, index, bit, test.wantIndex, test.wantBit)
		}
	}
}

func TestLookupIdentityUnknownUser(t *testing.T) {
	_, err := LookupIdentity("netcfgd-no-such-user", "netcfgd-no-such-group")
	if err == nil {
		t.Fatal("LookupIdentity with nonexistent user succeeded, want error")
	}
	if !strings.Contains(err.Error(), "netcfgd-no-such-user") {
		t.Errorf("error %q does not name the missing user", err)
	}
}

func TestLookupIdentityRoot(t *testing.T) {
	identity, err := LookupIdentity("root", "root")
	if err != nil {
		t.Skipf("root user/group not resolvable on this system: %v", err)
	}
	if identity.UID != 0 {
		t.Errorf("root UID = %d, want 0", identity.UID)
	}
	if identity.GID != 0 {
		t.Errorf("root GID = %d, want 0", identity.GID)
	}
}

// TestDropCoversAllThreads verifies that the drop leaves CAP_NET_ADMIN
// in the effective set of every OS thread, not just the one that ran
// Drop. The runtime schedules goroutines onto arbitrary threads, so a
// per-thread capset would make later netlink calls fail EPERM
// nondeterministically. Drop is irreversible, so the check runs in a
// subprocess.
func TestDropCoversAllThreads(t *testing.T) {
	if os.Getenv("NETCFGD_DROP_ALL_THREADS") == "1" {
		checkDropCoversAllThreads()
		return
	}
	if os.Geteuid() != 0 || os.Getegid() != 0 {
		t.Skip("requires root")
	}
	if _, err := lookupUnprivilegedAccount(); err != nil {
		t.Skipf("no unprivileged account to drop to: %v", err)
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestDropCoversAllThreads$")
	cmd.Env = append(os.Environ(), "NETCFGD_DROP_ALL_THREADS=1")
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("drop subprocess failed: %v\n%s", err, output)
	}
}

// checkDropCoversAllThreads runs in the subprocess: it parks goroutines
// on locked OS threads, performs the real drop, then reads each parked
// thread's capability sets via capget.
func checkDropCoversAllThreads() {
	const siblings = 4
	threadIDs := make(chan int, siblings)
	release := make(chan struct{})
	for i := 0; i < siblings; i++ {
		go func() {
			runtime.LockOSThread()
			threadIDs <- unix.Gettid()
			<-release
		}()
	}
	parked := make([]int, 0, siblings)
	for i := 0; i < siblings; i++ {
		parked = append(parked, <-threadIDs)
	}
	defer close(release)

	identity, err := lookupUnprivilegedAccount()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving drop account: %v\n", err)
		os.Exit(1)
	}
	if err := Drop(identity, NetAdmin); err != nil {
		fmt.Fprintf(os.Stderr, "Drop: %v\n", err)
		os.Exit(1)
	}

	index, bit := capabilityBit(NetAdmin)
	for _, tid := range parked {
		header := unix.CapUserHeader{
			Version: unix.LINUX_CAPABILITY_VERSION_3,
			Pid:     int32(tid),
		}
		var data [2]unix.CapUserData
		if err := unix.Capget(&header, &data[0]); err != nil {
			fmt.Fprintf(os.Stderr, "capget thread %d: %v\n", tid, err)
			os.Exit(1)
		}
		if data[index].Effective&bit == 0 {
			fmt.Fprintf(os.Stderr, "thread %d effective set %#x lacks CAP_NET_ADMIN after Drop\n",
				tid, data[index].Effective)
			os.Exit(1)
		}
	}
}

// lookupUnprivilegedAccount finds a standard unprivileged account for
// the drop test. The nobody group name varies across distributions.
func lookupUnprivilegedAccount() (Identity, error) {
	identity, err := LookupIdentity("nobody", "nobody")
	if err == nil {
		return identity, nil
	}
	return LookupIdentity("nobody", "nogroup")
}

func TestDropRequiresRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root; the non-root guard cannot be exercised")
	}
	err := Drop(Identity{User: "nobody", Group: "nogroup", UID: 65534, GID: 65534}, NetAdmin)
	if err == nil {
		t.Fatal("Drop as non-root succeeded, want error")
	}
	if !strings.Contains(err.Error(), "must be started as root") {
		t.Errorf("error = %q, want root requirement message", err)
	}
	if Dropped() {
		t.Error("Dropped() = true after failed Drop")
	}
}
