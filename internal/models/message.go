package models

import (
	"strings"

	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/pkg/apperr"
)

// Message is an immutable chat entry. ID is the key the replication layer
// assigned on insert; two messages with equal text are still distinct.
type Message struct {
	ID          string           `json:"id"`
	Text        string           `json:"text"`
	Sender      string           `json:"sender"`
	Timestamp   int64            `json:"timestamp"`
	IsEncrypted bool             `json:"isEncrypted,omitempty"`
	Image       *ImageAttachment `json:"image,omitempty"`
	// IsMine is derived for the local viewer and never stored.
	IsMine bool `json:"-"`
}

// ImageAttachment carries either inline Data (a data URL) or a hosted URL.
type ImageAttachment struct {
	Name string `json:"imageName"`
	Type string `json:"imageType"`
	Size int64  `json:"imageSize"`
	Data string `json:"imageData,omitempty"`
	URL  string `json:"imageUrl,omitempty"`
}

func (m Message) IsImage() bool {
	return m.Image != nil
}

func (m Message) Record() graph.Record {
	rec := graph.Record{
		"text":      m.Text,
		"sender":    m.Sender,
		"timestamp": m.Timestamp,
		"isImage":   m.Image != nil,
	}
	if m.IsEncrypted {
		rec["isEncrypted"] = true
	}
	if img := m.Image; img != nil {
		rec["imageName"] = img.Name
		rec["imageType"] = img.Type
		rec["imageSize"] = img.Size
		if img.Data != "" {
			rec["imageData"] = img.Data
		}
		if img.URL != "" {
			rec["imageUrl"] = img.URL
		}
	}
	return rec
}

// DecodeMessage validates a channel node. Records without text, sender or
// timestamp are partial writes and come back as MalformedRecord errors.
func DecodeMessage(id string, rec graph.Record) (Message, error) {
	if id == "" {
		return Message{}, apperr.Malformed("message has no id")
	}
	text := rec.String("text")
	if text == "" {
		return Message{}, apperr.Malformed("message " + id + " has no text")
	}
	sender := strings.ToLower(rec.String("sender"))
	if sender == "" {
		return Message{}, apperr.Malformed("message " + id + " has no sender")
	}
	ts, ok := rec.Int64("timestamp")
	if !ok {
		return Message{}, apperr.Malformed("message " + id + " has no timestamp")
	}

	m := Message{
		ID:          id,
		Text:        text,
		Sender:      sender,
		Timestamp:   ts,
		IsEncrypted: rec.Bool("isEncrypted"),
	}
	if rec.Bool("isImage") {
		img := &ImageAttachment{
			Name: rec.String("imageName"),
			Type: rec.String("imageType"),
			Data: rec.String("imageData"),
			URL:  rec.String("imageUrl"),
		}
		img.Size, _ = rec.Int64("imageSize")
		if img.Data != "" || img.URL != "" {
			m.Image = img
		}
	}
	return m, nil
}
