// Copyright 2026 The Netcfgd Authors
// SPDX-License-Identifier: Apache-2.0

// Package privilege performs the one-shot, irreversible privilege drop
// that turns the root-started netcfgd process into an unprivileged one
// holding exactly CAP_NET_ADMIN.
//
// The drop must run before the process touches any network state or
// accepts any bus request. It is sealed: a second call to Drop fails,
// and no API exists to regain privilege. A failure here is a fatal
// misconfiguration, never a transient condition, and callers must exit.
package privilege
