package models

// Session is the snapshot a client keeps between runs so it can skip the
// wallet prompt. It never leaves the device.
type Session struct {
	Address   string       `json:"account"`
	Username  string       `json:"username"`
	Signature string       `json:"signature"`
	Message   string       `json:"message"`
	LastLogin int64        `json:"lastLogin"`
	Friends   []FriendLink `json:"friends"`
}

// Valid reports whether the snapshot has the fields needed to resume.
func (s *Session) Valid() bool {
	return s != nil && s.Address != "" && s.Username != "" && s.Signature != "" && s.Message != ""
}
