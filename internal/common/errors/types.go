package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies a cache error by how the subsystem must react to it.
type Kind string

const (
	// KindRemote represents transient remote store failures. These feed the
	// circuit breaker and are never surfaced to callers.
	KindRemote Kind = "remote"
	// KindSerialization represents encode/decode failures. The affected
	// entry is treated as a miss.
	KindSerialization Kind = "serialization"
	// KindConfig represents configuration errors, fatal at load time only.
	KindConfig Kind = "config"
)

// ErrNotFound reports that a key is absent from the remote store. Absence is
// a clean miss, not a remote failure.
var ErrNotFound = stderrors.New("key not found")

// CacheError is a structured error raised inside the cache subsystem.
type CacheError struct {
	Kind    Kind                   `json:"kind"`
	Op      string                 `json:"op,omitempty"`
	Key     string                 `json:"key,omitempty"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	parts := []string{string(e.Kind), e.Message}

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// WithKey attaches the cache key the error relates to.
func (e *CacheError) WithKey(key string) *CacheError {
	e.Key = key
	return e
}

// WithContext adds context to the error.
func (e *CacheError) WithContext(key string, value interface{}) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// RemoteError creates a transient remote store error for the given operation.
func RemoteError(op string, cause error) *CacheError {
	return &CacheError{
		Kind:    KindRemote,
		Op:      op,
		Message: fmt.Sprintf("remote store %s failed", op),
		Cause:   cause,
	}
}

// SerializationError creates an encode/decode error.
func SerializationError(msg string, cause error) *CacheError {
	return &CacheError{
		Kind:    KindSerialization,
		Message: msg,
		Cause:   cause,
	}
}

// ConfigError creates a configuration error.
func ConfigError(msg string) *CacheError {
	return &CacheError{
		Kind:    KindConfig,
		Message: msg,
	}
}

// IsKind checks whether an error is a CacheError of the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}

	var ce *CacheError
	if !stderrors.As(err, &ce) {
		return false
	}

	return ce.Kind == kind
}

// IsNotFound reports whether an error means the key was absent.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

// GetKind returns the kind of a CacheError, or KindRemote for any other
// non-nil error reaching the cache from the remote path.
func GetKind(err error) Kind {
	if err == nil {
		return ""
	}

	var ce *CacheError
	if !stderrors.As(err, &ce) {
		return KindRemote
	}

	return ce.Kind
}
