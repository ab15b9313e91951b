// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

package privilege

import (
	"fmt"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Capability is a Linux capability retained across the privilege drop.
type Capability int

// NetAdmin is the single capability netcfgd keeps: administration of
// network interfaces, addresses, and routes.
const NetAdmin Capability = unix.CAP_NET_ADMIN

// Identity is the resolved unprivileged account the process drops to.
type Identity struct {
	// User is the account name the identity was resolved from.
	User string

	// Group is the group name the identity was resolved from.
	Group string

	// UID is the numeric user ID.
	UID int

	// GID is the numeric group ID.
	GID int
}

// dropped is set once Drop succeeds. There is deliberately no way to
// clear it.
var dropped atomic.Bool

// Dropped reports whether the privilege drop has been performed in this
// process.
func Dropped() bool { return dropped.Load() }

// LookupIdentity resolves a user and group name to numeric IDs. An
// unknown user or group is a configuration error the caller must treat
// as fatal.
func LookupIdentity(username, groupname string) (Identity, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return Identity{}, fmt.Errorf("looking up user %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Identity{}, fmt.Errorf("parsing uid %q for user %q: %w", u.Uid, username, err)
	}

	g, err := user.LookupGroup(groupname)
	if err != nil {
		return Identity{}, fmt.Errorf("looking up group %q: %w", groupname, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return Identity{}, fmt.Errorf("parsing gid %q for group %q: %w", g.Gid, groupname, err)
	}

	return Identity{User: username, Group: groupname, UID: uid, GID: gid}, nil
}

// Drop irreversibly changes the process identity to the given account,
// retaining only the keep capability. Supplementary groups are replaced
// and the capability bounding set is cleared.
//
// The process must currently run with root user and group identity.
// On success, the OS enforces that only the retained capability is
// usable; the root identity is gone for good. On any failure the
// process state is unspecified and the caller must exit.
func Drop(identity Identity, keep Capability) error {
	if dropped.Load() {
		return fmt.Errorf("privileges already dropped to %d:%d", unix.Getuid(), unix.Getgid())
	}
	if os.Geteuid() != 0 || os.Getegid() != 0 {
		return fmt.Errorf("process must be started as root (euid=%d egid=%d)", os.Geteuid(), os.Getegid())
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// KEEPCAPS, the capability sets, and the bounding set are all
	// per-thread kernel state, and the runtime schedules goroutines
	// onto every OS thread it owns. Every mutation below therefore
	// goes through AllThreadsSyscall; a plain capset would leave
	// CAP_NET_ADMIN usable only on whichever thread happened to run
	// this function.
	//
	// Keep permitted capabilities across the setuid transition; they
	// are re-raised into the effective set afterwards.
	if err := prctlAllThreads(unix.PR_SET_KEEPCAPS, 1); err != nil {
		return fmt.Errorf("prctl(PR_SET_KEEPCAPS): %w", err)
	}

	if err := unix.Setgroups([]int{identity.GID}); err != nil {
		return fmt.Errorf("setgroups(%d): %w", identity.GID, err)
	}
	if err := unix.Setresgid(identity.GID, identity.GID, identity.GID); err != nil {
		return fmt.Errorf("setresgid(%d): %w", identity.GID, err)
	}
	if err := unix.Setresuid(identity.UID, identity.UID, identity.UID); err != nil {
		return fmt.Errorf("setresuid(%d): %w", identity.UID, err)
	}

	if err := prctlAllThreads(unix.PR_SET_KEEPCAPS, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_KEEPCAPS, 0): %w", err)
	}

	// Clearing the bounding set requires CAP_SETPCAP in the effective
	// set, so the capability set shrinks in two steps: first to
	// {keep, CAP_SETPCAP}, then to {keep} alone once the bounding set
	// is empty.
	if err := applyCapabilities(keep, unix.CAP_SETPCAP); err != nil {
		return fmt.Errorf("raising transitional capability set: %w", err)
	}
	for c := 0; c <= unix.CAP_LAST_CAP; c++ {
		if c == int(keep) {
			continue
		}
		if err := prctlAllThreads(unix.PR_CAPBSET_DROP, uintptr(c)); err != nil {
			return fmt.Errorf("dropping capability %d from bounding set: %w", c, err)
		}
	}
	if err := applyCapabilities(keep); err != nil {
		return fmt.Errorf("applying final capability set: %w", err)
	}

	dropped.Store(true)
	return nil
}

// applyCapabilities sets the permitted and effective sets of every OS
// thread to exactly the given capabilities. The inheritable set is
// always empty: nothing netcfgd execs should receive network
// privileges.
func applyCapabilities(capabilities ...Capability) error {
	header := unix.CapUserHeader{
		Version: unix.LINUX_CAPABILITY_VERSION_3,
		Pid:     0, // calling thread
	}
	var data [2]unix.CapUserData
	for _, capability := range capabilities {
		index, bit := capabilityBit(capability)
		data[index].Permitted |= bit
		data[index].Effective |= bit
	}
	_, _, errno := syscall.AllThreadsSyscall(unix.SYS_CAPSET,
		uintptr(unsafe.Pointer(&header)), uintptr(unsafe.Pointer(&data[0])), 0)
	if errno != 0 {
		return fmt.Errorf("capset: %w", errno)
	}
	return nil
}

// prctlAllThreads applies a prctl operation on every OS thread the
// runtime owns, not just the calling one.
func prctlAllThreads(option int, arg uintptr) error {
	if _, _, errno := syscall.AllThreadsSyscall(unix.SYS_PRCTL, uintptr(option), arg, 0); errno != 0 {
		return errno
	}
	return nil
}

// capabilityBit returns the 64-bit capability data slot and bit mask
// for a capability number. Capabilities 0-31 live in the first slot,
// 32-63 in the second.
func capabilityBit(capability Capability) (index int, bit uint32) {
	return int(capability) / 32, 1 << (uint(capability) % 32)
}
