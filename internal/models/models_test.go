package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

func TestDecodeMessage_RejectsPartialRecords(t *testing.T) {
	cases := []struct {
		name string
		rec  graph.Record
	}{
		{"no text", graph.Record{"sender": "0xa", "timestamp": 1}},
		{"blank text", graph.Record{"text": "   ", "sender": "0xa", "timestamp": 1}},
		{"no sender", graph.Record{"text": "hi", "timestamp": 1}},
		{"no timestamp", graph.Record{"text": "hi", "sender": "0xa"}},
		{"garbage timestamp", graph.Record{"text": "hi", "sender": "0xa", "timestamp": "soon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage("m1", tc.rec)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindMalformedRecord))
		})
	}
}

func TestDecodeMessage_Image(t *testing.T) {
	m, err := DecodeMessage("m1", graph.Record{
		"text":      "Shared an image: cat.png",
		"sender":    "0xABC",
		"timestamp": json.Number("1712345678901"),
		"isImage":   true,
		"imageName": "cat.png",
		"imageType": "image/png",
		"imageSize": float64(2048),
		"imageData": "data:image/png;base64,AAAA",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", m.Sender)
	assert.Equal(t, int64(1712345678901), m.Timestamp)
	require.True(t, m.IsImage())
	assert.Equal(t, int64(2048), m.Image.Size)
	assert.Equal(t, "image/png", m.Image.Type)
}

func TestMessageRecordDecodesBack(t *testing.T) {
	in := Message{
		Text:      "Shared an image: a.jpg",
		Sender:    "0xa",
		Timestamp: 100,
		Image:     &ImageAttachment{Name: "a.jpg", Type: "image/jpeg", Size: 3, URL: "https://cdn/a.jpg"},
	}
	out, err := DecodeMessage("k", in.Record())
	require.NoError(t, err)
	assert.Equal(t, "k", out.ID)
	assert.Equal(t, in.Image, out.Image)
}

func TestIdentityMerge_PartialNeverErases(t *testing.T) {
	ident, err := DecodeIdentity("0xABC", graph.Record{"username": "alice", "createdAt": 10, "lastLogin": 10})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", ident.Address)

	ident = ident.Merge("0xabc", graph.Record{"lastLogin": 20})
	assert.Equal(t, "alice", ident.Username)
	assert.Equal(t, int64(20), ident.LastLogin)

	ident = ident.Merge("0xabc", graph.Record{"username": "", "encryptionPublicKey": "pk"})
	assert.Equal(t, "alice", ident.Username)
	assert.Equal(t, "pk", ident.EncryptionPublicKey)
}

func TestDecodeIdentity_AccountFieldFallback(t *testing.T) {
	ident, err := DecodeIdentity("", graph.Record{"account": "0xDEF", "username": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "0xdef", ident.Address)

	_, err = DecodeIdentity("0xdef", graph.Record{"lastLogin": 1})
	assert.True(t, apperr.IsKind(err, apperr.KindMalformedRecord))
}

func TestFriendLinkDedupKey(t *testing.T) {
	assert.Equal(t, "0xabc", FriendLink{Address: "0xABC", Username: "Alice"}.DedupKey())
	assert.Equal(t, "alice", FriendLink{Username: " Alice "}.DedupKey())

	link, err := DecodeFriendLink("k1", graph.Record{"id": "0xABC", "username": "alice", "addedAt": 5})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", link.DedupKey())
	assert.Equal(t, int64(5), link.AddedAt)

	_, err = DecodeFriendLink("k2", graph.Record{"addedAt": 5})
	assert.True(t, apperr.IsKind(err, apperr.KindMalformedRecord))
}
