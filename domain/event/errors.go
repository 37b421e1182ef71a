package event

// ErrorResponse represents an error to return to the caller (value type).
type ErrorResponse struct {
	Status  int
	Code    string
	Message string
}

// Common error responses.
//
// ErrInvalidKey covers every credential failure: missing, unknown, and
// revoked secrets all produce this exact response so callers cannot
// probe which secrets exist.
var (
	ErrMissingKey = ErrorResponse{
		Status:  401,
		Code:    "unauthenticated",
		Message: "Missing or invalid authorization header. Use: Authorization: Bearer <api_key>",
	}
	ErrInvalidKey = ErrorResponse{
		Status:  401,
		Code:    "unauthenticated",
		Message: "Invalid or inactive API key",
	}
	ErrMissingEventType = ErrorResponse{
		Status:  400,
		Code:    "validation_error",
		Message: "event_type is required",
	}
	ErrStorage = ErrorResponse{
		Status:  500,
		Code:    "internal_error",
		Message: "Failed to record usage event",
	}
	ErrSnapshotUnavailable = ErrorResponse{
		Status:  500,
		Code:    "internal_error",
		Message: "Failed to load dashboard data, retry shortly",
	}
)
