package efp

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by low-level requests on a 404. Fetch turns it into
// an inactive snapshot (details) or an empty field (sub-resources).
var ErrNotFound = errors.New("efp: not found")

// ErrUnresolvedName is returned when an ENS name has no address.
var ErrUnresolvedName = errors.New("efp: ens name does not resolve to an address")

// FetchError reports a failed snapshot fetch. Transient errors (network,
// timeouts, 5xx, 429) already went through the retry budget.
type FetchError struct {
	Address   string
	Endpoint  string
	Status    int
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Status != 0 {
		return fmt.Sprintf("efp: fetch %s %s: %s status %d: %v", e.Address, e.Endpoint, kind, e.Status, e.Err)
	}
	return fmt.Sprintf("efp: fetch %s %s: %s: %v", e.Address, e.Endpoint, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a FetchError worth retrying in a later run.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}
