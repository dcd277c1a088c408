package catalog

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/product"
)

// ErrTimeout matches any FetchError whose round trip exceeded the configured
// timeout. Not-found failures match product.ErrNotFound.
var ErrTimeout = errors.New("catalog request timed out")

// Kind classifies why a fetch failed.
type Kind int

const (
	// KindTransport is a network level failure (DNS, refused, reset).
	KindTransport Kind = iota
	// KindStatus is a non-2xx response other than 404.
	KindStatus
	// KindDecode is a body that is not the expected JSON shape.
	KindDecode
	// KindNotFound is a single product lookup the catalog reports as absent.
	KindNotFound
	// KindTimeout is a round trip that exceeded Config.Timeout.
	KindTimeout
	// KindCanceled means the caller stopped waiting. The request itself may
	// still complete and populate the cache.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FetchError reports a failed catalog request.
type FetchError struct {
	Endpoint string
	Kind     Kind
	// Status is the HTTP status code when one was received.
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString("fetch ")
	b.WriteString(e.Endpoint)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports the NotFound and Timeout specializations.
func (e *FetchError) Is(target error) bool {
	switch target {
	case product.ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTimeout:
		return e.Kind == KindTimeout
	default:
		return false
	}
}

// KindOf returns the Kind of the first FetchError in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return 0, false
	}
	return fe.Kind, true
}
