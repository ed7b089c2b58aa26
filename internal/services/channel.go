package services

import (
	"sort"
	"strings"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
)

const (
	DirectoryPath = "usersList"
	chatsRoot     = "chats"
)

// ChannelKey names the conversation between two addresses. Both sides
// derive the same key: the lowercase addresses sorted and joined by "_".
func ChannelKey(a, b string) string {
	pair := []string{normalizeParty(a), normalizeParty(b)}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

// ChatPath is the collection holding a channel's messages.
func ChatPath(channelKey string) string {
	return graph.JoinPath(chatsRoot, channelKey)
}

// FriendsPath is the collection holding owner's friend links.
func FriendsPath(owner string) string {
	return graph.JoinPath(DirectoryPath, normalizeParty(owner), "friends")
}

func normalizeParty(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
