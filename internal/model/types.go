package model

import "encoding/json"

type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ConversationAccount struct {
	ID string `json:"id"`
}

// Activity is a single message or event exchanged within a conversation.
// Value and ChannelData are kept as raw JSON so payloads the emulator does
// not understand survive the round trip untouched.
type Activity struct {
	ID           string              `json:"id,omitempty"`
	Type         string              `json:"type"`
	Timestamp    string              `json:"timestamp,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	From         ChannelAccount      `json:"from"`
	Recipient    *ChannelAccount     `json:"recipient,omitempty"`
	Conversation ConversationAccount `json:"conversation"`
	Text         string              `json:"text,omitempty"`
	Value        json.RawMessage     `json:"value,omitempty"`
	ChannelData  json.RawMessage     `json:"channelData,omitempty"`
	ReplyToID    string              `json:"replyToId,omitempty"`
}

type BotStateRecord struct {
	Data json.RawMessage `json:"data"`
	ETag string          `json:"eTag"`
}

type Attachment struct {
	ID          string
	ContentType string
	Content     []byte
	CreatedAt   int64
}
