package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeMissingParameter     ErrorCode = 102

	// Feed errors (200-299)
	ErrCodeAlreadyRunning       ErrorCode = 200
	ErrCodeInitializationFailed ErrorCode = 201
	ErrCodeConnectionFailed     ErrorCode = 202
	ErrCodeNotConnected         ErrorCode = 203
	ErrCodeSubscriptionFailed   ErrorCode = 204

	// Trading errors (300-399)
	ErrCodeRequestFailed     ErrorCode = 300
	ErrCodeServerError       ErrorCode = 301
	ErrCodeOrderFailed       ErrorCode = 302
	ErrCodeCancelOrderFailed ErrorCode = 303
	ErrCodeParseFailed       ErrorCode = 304
)
