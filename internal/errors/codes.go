package errors

// ErrorCode represents a machine-readable error identifier for client error handling.
type ErrorCode string

// Order lifecycle errors
const (
	// Credit debit failed: the caller cannot afford the action.
	ErrCodeInsufficientCredits ErrorCode = "insufficient_credits"

	// No snapshot in the live cache or the durable store. Also used when the
	// caller is not a participant, so non-participants cannot probe existence.
	ErrCodeOrderNotFound ErrorCode = "order_not_found"

	// Pledging against a completed or expired order.
	ErrCodeOrderNotActive ErrorCode = "order_not_active"

	// The completion threshold was reached by a concurrent pledge.
	ErrCodeOrderFullyPledged ErrorCode = "order_fully_pledged"
)

// Validation errors (request input validation)
const (
	ErrCodeMissingField  ErrorCode = "missing_field"
	ErrCodeInvalidField  ErrorCode = "invalid_field"
	ErrCodeInvalidAmount ErrorCode = "invalid_amount"
	ErrCodeValidation    ErrorCode = "validation"
)

// Authentication errors
const (
	ErrCodeUnauthenticated ErrorCode = "unauthenticated"
	ErrCodeTokenExpired    ErrorCode = "token_expired"
	ErrCodeTokenRevoked    ErrorCode = "token_revoked"
	ErrCodeOTPInvalid      ErrorCode = "otp_invalid"
	ErrCodeOTPExpired      ErrorCode = "otp_expired"
)

// Credit top-up errors
const (
	ErrCodePackageNotFound   ErrorCode = "package_not_found"
	ErrCodePurchaseNotFound  ErrorCode = "purchase_not_found"
	ErrCodeInvalidSignature  ErrorCode = "invalid_signature"
	ErrCodeWebhookMalformed  ErrorCode = "webhook_malformed"
	ErrCodePurchaseCompleted ErrorCode = "purchase_already_completed"
)

// External service errors
const (
	ErrCodeOTPProviderError ErrorCode = "otp_provider_error"
	ErrCodeCacheError       ErrorCode = "cache_error"
	ErrCodeNetworkError     ErrorCode = "network_error"
)

// Internal/System errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are typically transient network/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeOTPProviderError,
		ErrCodeCacheError,
		ErrCodeNetworkError,
		ErrCodeDatabaseError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - Client validation and order-state errors
	case ErrCodeInsufficientCredits,
		ErrCodeOrderNotActive,
		ErrCodeOrderFullyPledged,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeValidation,
		ErrCodeOTPInvalid,
		ErrCodeOTPExpired,
		ErrCodeWebhookMalformed,
		ErrCodePurchaseCompleted:
		return 400

	// 401 Unauthorized - Token failures
	case ErrCodeUnauthenticated,
		ErrCodeTokenExpired,
		ErrCodeTokenRevoked,
		ErrCodeInvalidSignature:
		return 401

	// 404 Not Found - Missing resources (and non-participant probes)
	case ErrCodeOrderNotFound,
		ErrCodePackageNotFound,
		ErrCodePurchaseNotFound:
		return 404

	// 502 Bad Gateway - External service errors
	case ErrCodeOTPProviderError,
		ErrCodeNetworkError:
		return 502

	// 500 Internal Server Error - System/internal errors
	default:
		return 500
	}
}
