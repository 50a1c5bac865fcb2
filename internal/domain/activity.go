package domain

import (
	"encoding/json"
	"time"
)

// Activity types handled by the bridge.
const (
	ActivityTypeMessage            = "message"
	ActivityTypeConversationUpdate = "conversationUpdate"
	ActivityTypeTrace              = "trace"
)

// ChannelEmulator is the channel id used by the local bot emulator.
const ChannelEmulator = "emulator"

// ChannelAccount identifies a user or bot on a channel.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
}

// Activity is the bot-framework envelope for every inbound and outbound
// message or event.
type Activity struct {
	Type           string               `json:"type"`
	ID             string               `json:"id,omitempty"`
	Timestamp      *time.Time           `json:"timestamp,omitempty"`
	ServiceURL     string               `json:"serviceUrl,omitempty"`
	ChannelID      string               `json:"channelId,omitempty"`
	From           *ChannelAccount      `json:"from,omitempty"`
	Recipient      *ChannelAccount      `json:"recipient,omitempty"`
	Conversation   *ConversationAccount `json:"conversation,omitempty"`
	Text           string               `json:"text,omitempty"`
	TextFormat     string               `json:"textFormat,omitempty"`
	Locale         string               `json:"locale,omitempty"`
	MembersAdded   []ChannelAccount     `json:"membersAdded,omitempty"`
	MembersRemoved []ChannelAccount     `json:"membersRemoved,omitempty"`
	ReplyToID      string               `json:"replyToId,omitempty"`
	Name           string               `json:"name,omitempty"`
	Label          string               `json:"label,omitempty"`
	Value          any                  `json:"value,omitempty"`
	ValueType      string               `json:"valueType,omitempty"`
	ChannelData    json.RawMessage      `json:"channelData,omitempty"`
}

// ConversationID returns the id of the activity's conversation, or "" when
// the activity carries none.
func (a *Activity) ConversationID() string {
	if a == nil || a.Conversation == nil {
		return ""
	}
	return a.Conversation.ID
}

// RecipientID returns the id of the account the activity was addressed to.
func (a *Activity) RecipientID() string {
	if a == nil || a.Recipient == nil {
		return ""
	}
	return a.Recipient.ID
}
