package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	authpkg "github.com/hashangit/seo-pro/internal/auth"
	creditrequestdomain "github.com/hashangit/seo-pro/internal/creditrequest/domain"
	dispatchdomain "github.com/hashangit/seo-pro/internal/dispatch/domain"
	jobdomain "github.com/hashangit/seo-pro/internal/job/domain"
	ledgerdomain "github.com/hashangit/seo-pro/internal/ledger/domain"
	orchestratordomain "github.com/hashangit/seo-pro/internal/orchestrator/domain"
	quotedomain "github.com/hashangit/seo-pro/internal/quote/domain"
	"github.com/hashangit/seo-pro/internal/scanner"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrTooManyRequests    = errors.New("too_many_requests")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *apiError) Error() string { return e.Message }

func invalidRequestError() *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "request body could not be parsed"}
}

func newValidationError(field, code, message string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: code, Message: message, Field: field}
}

// AbortWithError maps domain errors onto HTTP responses. Ownership
// failures answer 404 so callers cannot probe for other users'
// resources.
func AbortWithError(c *gin.Context, err error) {
	var api *apiError
	if errors.As(err, &api) {
		c.AbortWithStatusJSON(api.Status, gin.H{"error": api})
		return
	}

	status, code, message := mapDomainError(err)
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authpkg.ErrMissingToken),
		errors.Is(err, authpkg.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized", "authentication required"

	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden", "not allowed"

	case errors.Is(err, ErrNotFound),
		errors.Is(err, quotedomain.ErrQuoteNotFound),
		errors.Is(err, quotedomain.ErrNotQuoteOwner),
		errors.Is(err, jobdomain.ErrJobNotFound),
		errors.Is(err, jobdomain.ErrNotJobOwner),
		errors.Is(err, jobdomain.ErrTaskNotFound),
		errors.Is(err, creditrequestdomain.ErrRequestNotFound):
		return http.StatusNotFound, "not_found", "resource not found"

	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_credits",
			"not enough credits for this audit; top up or request more credits"

	case errors.Is(err, quotedomain.ErrQuoteExpired):
		return http.StatusConflict, "quote_expired",
			"this quote has expired; request a new estimate"

	case errors.Is(err, quotedomain.ErrQuoteAlreadyClaimed):
		return http.StatusConflict, "quote_already_used",
			"this quote was already used; request a new estimate"

	case errors.Is(err, creditrequestdomain.ErrRequestAlreadyDecided):
		return http.StatusConflict, "already_decided", "this request was already decided"

	case errors.Is(err, scanner.ErrUnsafeTarget):
		return http.StatusBadRequest, "unsafe_target", "the target URL is not allowed"

	case errors.Is(err, quotedomain.ErrInvalidQuoteInput),
		errors.Is(err, quotedomain.ErrInvalidQuoteState),
		errors.Is(err, jobdomain.ErrInvalidTaskState),
		errors.Is(err, jobdomain.ErrTaskJobMismatch),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidSubject),
		errors.Is(err, creditrequestdomain.ErrInvalidRequestInput):
		return http.StatusBadRequest, "invalid_request", err.Error()

	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, "rate_limited", "too many requests; slow down"

	case errors.Is(err, orchestratordomain.ErrDispatchFailed):
		return http.StatusServiceUnavailable, "dispatch_failed",
			"the audit could not be started; any charge has been refunded, try again later"

	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, authpkg.ErrJWKSUnavailable),
		errors.Is(err, dispatchdomain.ErrQueueUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable", "temporarily unavailable, try again later"

	default:
		return http.StatusInternalServerError, "internal_error", "something went wrong"
	}
}
