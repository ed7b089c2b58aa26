package apperr

type Kind string

const (
	KindUnknown               Kind = "UNKNOWN"
	KindInvalidArgument       Kind = "INVALID_ARGUMENT"
	KindNotFound              Kind = "NOT_FOUND"
	KindAuthentication        Kind = "AUTHENTICATION"
	KindWrite                 Kind = "WRITE"
	KindMalformedRecord       Kind = "MALFORMED_RECORD"
	KindEncryptionUnavailable Kind = "ENCRYPTION_UNAVAILABLE"
	KindAlreadyFriend         Kind = "ALREADY_FRIEND"
)
