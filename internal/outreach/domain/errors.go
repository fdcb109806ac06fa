package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrIdentityUnresolved indicates no confident lead match could be made.
	// Non-fatal: callers record the outcome as uncertain instead of failing.
	ErrIdentityUnresolved = errors.New("identity unresolved")
	// ErrProviderIDMissing indicates a message or invite cannot be addressed
	// because no provider id could be learned for the counterpart.
	ErrProviderIDMissing = errors.New("provider id missing")
	// ErrProviderIDConflict indicates a webhook carried a provider id that
	// contradicts one already learned. The stored value is kept and the
	// record flagged; it is never silently overwritten.
	ErrProviderIDConflict = errors.New("provider id conflict")
	// ErrSendInProgress rejects a second concurrent send for the same lead.
	ErrSendInProgress = errors.New("send already in progress for lead")
	// ErrThreadUpsertFailed wraps datastore failures on thread writes. These
	// are reported distinctly from send failures: the message may already be
	// out on the wire.
	ErrThreadUpsertFailed = errors.New("thread upsert failed")
	// ErrMessagePersistFailed wraps datastore failures on message writes.
	ErrMessagePersistFailed = errors.New("message persist failed")
)
