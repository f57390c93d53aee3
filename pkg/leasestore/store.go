// Package leasestore implements owner-stamped, TTL-bounded exclusive leases
// on runs, plus the same primitive generalized to arbitrary lock keys.
//
// Release and Extend are owner-checked for both leases and locks: the
// source this system was distilled from released leases unconditionally,
// which lets a late-arriving legitimate owner release a lease the control
// plane has already reassigned to someone else. The control plane's own
// reassignment path uses AdminReleaseLease, a distinct call that bypasses
// the owner check, instead of relying on an unchecked ReleaseLease.
package leasestore

import "github.com/cuemby/agentctl/pkg/types"

// Store provides lease and lock primitives. AcquireLease is compare-and-set
// by run id; ReleaseLease/ExtendLease are compare-and-set by owner.
// AcquireLock/ReleaseLock/ExtendLock/IsLocked are the generic form keyed by
// an arbitrary string.
type Store interface {
	// AcquireLease atomically sets the lease iff absent or expired, stamping
	// nodeId as owner with the given TTL. Returns true iff the caller became
	// the owner.
	AcquireLease(runID, nodeID string, ttlSeconds int) (bool, error)

	// GetLease returns the current lease, or nil if absent or expired.
	GetLease(runID string) (*types.Lease, error)

	// ExtendLease extends the lease's expiry iff it exists and is owned by
	// nodeID. Returns false otherwise.
	ExtendLease(runID, nodeID string, additionalSeconds int) (bool, error)

	// ReleaseLease deletes the lease iff it is owned by nodeID. Returns false
	// if absent or owned by someone else.
	ReleaseLease(runID, nodeID string) (bool, error)

	// AdminReleaseLease unconditionally deletes the lease, for the control
	// plane's own reassignment path (e.g. after the liveness reaper decides
	// a node is gone). It is never exposed to worker-facing RPCs.
	AdminReleaseLease(runID string) (bool, error)

	// AcquireLock is the generic form of AcquireLease keyed by an arbitrary
	// string, used for serializing things like the scheduler's dispatch tick.
	AcquireLock(key, ownerID string, ttlSeconds int) (bool, error)
	ReleaseLock(key, ownerID string) (bool, error)
	ExtendLock(key, ownerID string, additionalSeconds int) (bool, error)
	IsLocked(key string) (bool, error)

	Close() error
}
