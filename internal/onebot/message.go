package onebot

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Sender identifies who sent a message.
type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
}

// Message is a normalized OneBot message event.
type Message struct {
	MessageType string // "group" or "private"
	SubType     string
	MessageID   string
	UserID      int64
	GroupID     int64
	SelfID      int64
	Time        int64
	Text        string
	RawText     string
	Sender      Sender
	Raw         []byte
}

// DisplayName returns the sender's group card when set, else the nickname.
func (m *Message) DisplayName() string {
	if m.Sender.Card != "" {
		return m.Sender.Card
	}
	return m.Sender.Nickname
}

// IsGroup reports whether the message came from a group chat.
func (m *Message) IsGroup() bool {
	return m.MessageType == "group"
}

// Decoded returns the full event document as generic Go values, for
// structural matching against the original JSON.
func (m *Message) Decoded() map[string]interface{} {
	v, ok := gjson.ParseBytes(m.Raw).Value().(map[string]interface{})
	if !ok {
		return nil
	}
	return v
}

// parseMessage normalizes a raw OneBot message event payload. Text is the
// plain-text content with CQ codes stripped; RawText keeps them.
func parseMessage(raw []byte) *Message {
	doc := gjson.ParseBytes(raw)

	m := &Message{
		MessageType: doc.Get("message_type").String(),
		SubType:     doc.Get("sub_type").String(),
		MessageID:   doc.Get("message_id").String(),
		UserID:      doc.Get("user_id").Int(),
		GroupID:     doc.Get("group_id").Int(),
		SelfID:      doc.Get("self_id").Int(),
		Time:        doc.Get("time").Int(),
		RawText:     doc.Get("raw_message").String(),
		Sender: Sender{
			UserID:   doc.Get("sender.user_id").Int(),
			Nickname: doc.Get("sender.nickname").String(),
			Card:     doc.Get("sender.card").String(),
		},
		Raw: raw,
	}

	m.Text = extractText(doc.Get("message"), m.RawText)
	return m
}

// extractText flattens a OneBot message field into plain text. The field
// is either a CQ-coded string or an array of typed segments.
func extractText(msg gjson.Result, rawText string) string {
	if msg.IsArray() {
		var b strings.Builder
		msg.ForEach(func(_, seg gjson.Result) bool {
			if seg.Get("type").String() == "text" {
				b.WriteString(seg.Get("data.text").String())
			}
			return true
		})
		return strings.TrimSpace(b.String())
	}

	s := msg.String()
	if s == "" {
		s = rawText
	}
	return strings.TrimSpace(stripCQCodes(s))
}

// stripCQCodes removes [CQ:...] segments from a CQ-coded message string.
func stripCQCodes(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "[CQ:")
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "]")
		if end < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:start])
		s = s[start+end+1:]
	}
	return b.String()
}
