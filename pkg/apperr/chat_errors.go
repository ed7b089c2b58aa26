package apperr

var (
	ErrUsernameMismatch      = Authentication("username does not match the one registered for this address")
	ErrSigningRejected       = Authentication("signature request was rejected by the wallet")
	ErrNoSigner              = Authentication("no wallet signer available")
	ErrNoAccount             = Authentication("wallet returned no account")
	ErrInvalidSession        = Authentication("stored session is invalid")
	ErrAlreadyFriend         = New(KindAlreadyFriend, "user is already in your friends list")
	ErrEncryptionUnavailable = New(KindEncryptionUnavailable, "encryption is not set up for this session")
	ErrNotLoggedIn           = Authentication("not logged in")
	ErrInvalidAddress        = InvalidArg("address must be a 0x-prefixed 20-byte hex string")
	ErrSelfFriend            = InvalidArg("cannot add yourself as a friend")
	ErrEmptyMessage          = InvalidArg("message text cannot be empty")
	ErrImageTooLarge         = InvalidArg("image exceeds the maximum allowed size")
	ErrNotAnImage            = InvalidArg("only image files are allowed")
	ErrUserNotFound          = NotFound("user not found")
)

func ErrIdentityWriteFailed(cause error) error {
	return WriteFailed("failed to write identity", cause)
}

func ErrFriendWriteFailed(cause error) error {
	return WriteFailed("failed to add friend", cause)
}

func ErrMessageWriteFailed(cause error) error {
	return WriteFailed("failed to send message", cause)
}

func ErrLookupFailed(cause error) error {
	return Wrap(KindAuthentication, "failed to read identity", cause)
}
