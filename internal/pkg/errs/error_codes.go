/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrUnsupportedEvent indicates a WebSocket event type the server does not handle.
	ErrUnsupportedEvent = 1008
)

// 2xxx: Room and Message Errors
const (
	// ErrRoomNotJoined indicates a message or typing event addressed to a room the
	// connection is not subscribed to.
	ErrRoomNotJoined = 2103

	// ErrMessageContentTooLong indicates that the user's message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageEmpty indicates a message with no text after trimming.
	ErrMessageEmpty = 2202

	// ErrMessageNotPersisted indicates the message log rejected the write; the message was not delivered.
	ErrMessageNotPersisted = 2203

	// ErrFileSizeTooLarge indicates an upload larger than the allowed size.
	ErrFileSizeTooLarge = 2301

	// ErrFileTypeInvalid indicates an upload whose name or MIME type is not an allowed image type.
	ErrFileTypeInvalid = 2302
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrPowChallengeRequired indicates the client must complete a Proof-of-Work challenge first.
	ErrPowChallengeRequired = 3001

	// ErrPowChallengeInvalid indicates that the PoW proof provided by the client is invalid or incorrect.
	ErrPowChallengeInvalid = 3002

	// ErrAlreadyLoggedIn indicates an auth request carrying a valid identity token.
	ErrAlreadyLoggedIn = 3005

	// ErrInvalidUsername indicates a username outside the allowed pattern.
	ErrInvalidUsername = 3006

	// ErrInvalidPassword indicates a password outside the allowed length.
	ErrInvalidPassword = 3007

	// ErrUserAlreadyExists indicates registration with a taken username.
	ErrUserAlreadyExists = 3008

	// ErrInvalidCredentials indicates a login with an unknown username or wrong password.
	ErrInvalidCredentials = 3009

	// ErrUserNotFound indicates an operation on an identity missing from the directory.
	ErrUserNotFound = 3010

	// ErrUnauthorized indicates a request without a valid identity token.
	ErrUnauthorized = 3011
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrFileStorageFailed indicates the object storage backend failed or is not configured.
	ErrFileStorageFailed = 5001
)
