// Package gatewayerr implements the gateway's typed error taxonomy
// (SPEC_FULL.md §7): a GatewayError carrying an HTTP-mappable Kind, wrapping
// a provider-origin cause when one exists.
package gatewayerr

import (
	"errors"
	"fmt"
	"net/http"

	agentproviders "github.com/nexusgw/gateway/internal/agent/providers"
)

// Kind categorizes a gateway-level failure for HTTP status mapping.
type Kind string

const (
	KindBadRequest      Kind = "bad_request"
	KindAuth            Kind = "auth"
	KindForbidden       Kind = "forbidden"
	KindRateLimit       Kind = "rate_limit"
	KindModelNotFound   Kind = "model_not_found"
	KindConnection      Kind = "connection"
	KindInternal        Kind = "internal"
	KindUnavailable     Kind = "unavailable"
)

// statusByKind maps each Kind onto the HTTP status spec.md §7's table
// assigns it.
var statusByKind = map[Kind]int{
	KindBadRequest:    http.StatusBadRequest,
	KindAuth:          http.StatusUnauthorized,
	KindForbidden:     http.StatusForbidden,
	KindRateLimit:     http.StatusTooManyRequests,
	KindModelNotFound: http.StatusNotFound,
	KindConnection:    http.StatusBadGateway,
	KindInternal:      http.StatusInternalServerError,
	KindUnavailable:   http.StatusServiceUnavailable,
}

// GatewayError is the typed error every gateway-layer failure is surfaced
// as at the HTTP boundary.
type GatewayError struct {
	Kind      Kind
	Status    int
	Message   string
	RequestID string
	Cause     error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Cause.Error())
	}
	return string(e.Kind)
}

// Unwrap exposes the wrapped cause, chaining onto a C5-origin
// agentproviders.ProviderError where one exists.
func (e *GatewayError) Unwrap() error { return e.Cause }

// New builds a GatewayError of the given kind, deriving its HTTP status
// from the kind's fixed mapping.
func New(kind Kind, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Status: statusByKind[kind], Message: message, Cause: cause}
}

// FromVendorError classifies a C5 provider failure onto a GatewayError,
// reusing agentproviders.ClassifyError/GetProviderError exactly as C8's
// chat handler does for the Auth/RateLimit/ModelNotFound/Connection table.
func FromVendorError(err error) *GatewayError {
	reason := agentproviders.ClassifyError(err)
	requestID := ""
	if pe, ok := agentproviders.GetProviderError(err); ok {
		reason = pe.Reason
		requestID = pe.RequestID
	}

	var kind Kind
	switch reason {
	case agentproviders.FailoverAuth, agentproviders.FailoverBilling:
		kind = KindAuth
	case agentproviders.FailoverRateLimit:
		kind = KindRateLimit
	case agentproviders.FailoverModelUnavailable:
		kind = KindModelNotFound
	case agentproviders.FailoverTimeout, agentproviders.FailoverServerError:
		kind = KindConnection
	default:
		kind = KindInternal
	}

	ge := New(kind, err.Error(), err)
	ge.RequestID = requestID
	return ge
}

// As extracts a *GatewayError from err's chain, if present.
func As(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
