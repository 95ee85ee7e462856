// Package model holds the real-time event envelope delivered by a datafeed
// and the payload types carried inside it.
package model

import "strings"

// EventType is the discriminator carried in Event.Type.
type EventType string

const (
	EventMessageSent                EventType = "MESSAGESENT"
	EventMessageSuppressed          EventType = "MESSAGESUPPRESSED"
	EventInstantMessageCreated      EventType = "INSTANTMESSAGECREATED"
	EventRoomCreated                EventType = "ROOMCREATED"
	EventRoomUpdated                EventType = "ROOMUPDATED"
	EventRoomDeactivated            EventType = "ROOMDEACTIVATED"
	EventRoomReactivated            EventType = "ROOMREACTIVATED"
	EventUserJoinedRoom             EventType = "USERJOINEDROOM"
	EventUserLeftRoom               EventType = "USERLEFTROOM"
	EventRoomMemberPromotedToOwner  EventType = "ROOMMEMBERPROMOTEDTOOWNER"
	EventRoomMemberDemotedFromOwner EventType = "ROOMMEMBERDEMOTEDFROMOWNER"
	EventConnectionRequested        EventType = "CONNECTIONREQUESTED"
	EventConnectionAccepted         EventType = "CONNECTIONACCEPTED"
	EventElementsAction             EventType = "SYMPHONYELEMENTSACTION"
	EventSharedPost                 EventType = "SHAREDPOST"
)

// KnownEventTypes lists every discriminator the router understands.
var KnownEventTypes = []EventType{
	EventMessageSent,
	EventMessageSuppressed,
	EventInstantMessageCreated,
	EventRoomCreated,
	EventRoomUpdated,
	EventRoomDeactivated,
	EventRoomReactivated,
	EventUserJoinedRoom,
	EventUserLeftRoom,
	EventRoomMemberPromotedToOwner,
	EventRoomMemberDemotedFromOwner,
	EventConnectionRequested,
	EventConnectionAccepted,
	EventElementsAction,
	EventSharedPost,
}

// StreamType distinguishes the conversation kinds a message can land in.
type StreamType string

const (
	StreamRoom StreamType = "ROOM"
	StreamIM   StreamType = "IM"
	StreamMIM  StreamType = "MIM"
	StreamPost StreamType = "POST"
)

// Event is one entry of a datafeed read. Events are treated as immutable
// once decoded.
type Event struct {
	ID        string    `json:"id" yaml:"id"`
	MessageID string    `json:"messageId,omitempty" yaml:"messageId,omitempty"`
	Timestamp int64     `json:"timestamp" yaml:"timestamp"`
	Type      EventType `json:"type" yaml:"type"`
	Initiator Initiator `json:"initiator" yaml:"initiator"`
	Payload   Payload   `json:"payload" yaml:"payload"`
}

type Initiator struct {
	User User `json:"user" yaml:"user"`
}

type User struct {
	UserID      int64  `json:"userId" yaml:"userId"`
	FirstName   string `json:"firstName,omitempty" yaml:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty" yaml:"lastName,omitempty"`
	DisplayName string `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
	Username    string `json:"username,omitempty" yaml:"username,omitempty"`
}

// InitiatorID is the user id of whoever caused the event.
func (e Event) InitiatorID() int64 {
	return e.Initiator.User.UserID
}

// StreamType returns the stream type of a MESSAGESENT event, normalized to
// upper case, or "" when the event carries none.
func (e Event) StreamType() StreamType {
	if e.Payload.MessageSent == nil || e.Payload.MessageSent.Message.Stream == nil {
		return ""
	}
	return StreamType(strings.ToUpper(string(e.Payload.MessageSent.Message.Stream.StreamType)))
}

// IsKnown reports whether t is one of the routed discriminators.
func (t EventType) IsKnown() bool {
	for _, k := range KnownEventTypes {
		if k == t {
			return true
		}
	}
	return false
}
