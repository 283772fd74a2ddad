package cache

import "errors"

// Sentinel errors for the engine's failure classes. Callers branch with
// errors.Is; wrapped variants carry the operation detail.
var (
	// ErrInvalidKey signals an empty or otherwise unusable cache key.
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrIntegrityViolation signals that a stored payload failed its
	// signature check or carried an unknown envelope version. The engine
	// purges the entry and surfaces the read as a miss.
	ErrIntegrityViolation = errors.New("payload integrity violation")

	// ErrSerialization signals that a value could not be encoded for
	// storage or decoded back.
	ErrSerialization = errors.New("value serialization failed")

	// ErrStorageIO signals a failed backing store operation. The
	// condition is considered transient; the engine reports it without
	// retrying.
	ErrStorageIO = errors.New("backing store operation failed")

	// ErrPolicyViolation signals invalid policy or security configuration.
	// Raised at configuration time, never during normal operation.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrValueTooLarge signals a single payload bigger than the
	// configured size budget.
	ErrValueTooLarge = errors.New("value exceeds cache size budget")

	// ErrEngineClosed signals an operation against a closed engine.
	ErrEngineClosed = errors.New("cache engine is closed")
)
