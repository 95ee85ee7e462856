package model

// Payload carries exactly one non-nil field, named after the lower camel
// case of the event type.
type Payload struct {
	MessageSent                *MessageSent           `json:"messageSent,omitempty" yaml:"messageSent,omitempty"`
	MessageSuppressed          *MessageSuppressed     `json:"messageSuppressed,omitempty" yaml:"messageSuppressed,omitempty"`
	InstantMessageCreated      *InstantMessageCreated `json:"instantMessageCreated,omitempty" yaml:"instantMessageCreated,omitempty"`
	RoomCreated                *RoomCreated           `json:"roomCreated,omitempty" yaml:"roomCreated,omitempty"`
	RoomUpdated                *RoomUpdated           `json:"roomUpdated,omitempty" yaml:"roomUpdated,omitempty"`
	RoomDeactivated            *RoomDeactivated       `json:"roomDeactivated,omitempty" yaml:"roomDeactivated,omitempty"`
	RoomReactivated            *RoomReactivated       `json:"roomReactivated,omitempty" yaml:"roomReactivated,omitempty"`
	UserJoinedRoom             *RoomMembership        `json:"userJoinedRoom,omitempty" yaml:"userJoinedRoom,omitempty"`
	UserLeftRoom               *RoomMembership        `json:"userLeftRoom,omitempty" yaml:"userLeftRoom,omitempty"`
	RoomMemberPromotedToOwner  *RoomMembership        `json:"roomMemberPromotedToOwner,omitempty" yaml:"roomMemberPromotedToOwner,omitempty"`
	RoomMemberDemotedFromOwner *RoomMembership        `json:"roomMemberDemotedFromOwner,omitempty" yaml:"roomMemberDemotedFromOwner,omitempty"`
	ConnectionRequested        *ConnectionRequested   `json:"connectionRequested,omitempty" yaml:"connectionRequested,omitempty"`
	ConnectionAccepted         *ConnectionAccepted    `json:"connectionAccepted,omitempty" yaml:"connectionAccepted,omitempty"`
	SymphonyElementsAction     *ElementsAction        `json:"symphonyElementsAction,omitempty" yaml:"symphonyElementsAction,omitempty"`
	SharedPost                 *SharedPost            `json:"sharedPost,omitempty" yaml:"sharedPost,omitempty"`
}

type Stream struct {
	StreamID           string     `json:"streamId" yaml:"streamId"`
	StreamType         StreamType `json:"streamType,omitempty" yaml:"streamType,omitempty"`
	RoomName           string     `json:"roomName,omitempty" yaml:"roomName,omitempty"`
	Members            []User     `json:"members,omitempty" yaml:"members,omitempty"`
	External           bool       `json:"external,omitempty" yaml:"external,omitempty"`
	CrossPod           bool       `json:"crossPod,omitempty" yaml:"crossPod,omitempty"`
	RecipientTenantIDs []int64    `json:"recipientTenantIds,omitempty" yaml:"recipientTenantIds,omitempty"`
}

type Attachment struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Size int64  `json:"size" yaml:"size"`
}

// Message is a message as delivered in a MESSAGESENT or SHAREDPOST event.
// Message holds MessageML; Data holds the entity JSON as a string.
type Message struct {
	MessageID          string       `json:"messageId" yaml:"messageId"`
	ParentMessageID    string       `json:"parentMessageId,omitempty" yaml:"parentMessageId,omitempty"`
	Timestamp          int64        `json:"timestamp" yaml:"timestamp"`
	Message            string       `json:"message" yaml:"message"`
	SharedMessage      *Message     `json:"sharedMessage,omitempty" yaml:"sharedMessage,omitempty"`
	Data               string       `json:"data,omitempty" yaml:"data,omitempty"`
	Attachments        []Attachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	User               *User        `json:"user,omitempty" yaml:"user,omitempty"`
	Stream             *Stream      `json:"stream,omitempty" yaml:"stream,omitempty"`
	ExternalRecipients bool         `json:"externalRecipients,omitempty" yaml:"externalRecipients,omitempty"`
	UserAgent          string       `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	OriginalFormat     string       `json:"originalFormat,omitempty" yaml:"originalFormat,omitempty"`
	SID                string       `json:"sid,omitempty" yaml:"sid,omitempty"`
	Silent             bool         `json:"silent,omitempty" yaml:"silent,omitempty"`
}

type RoomProperties struct {
	Name             string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description      string   `json:"description,omitempty" yaml:"description,omitempty"`
	CreatorUser      *User    `json:"creatorUser,omitempty" yaml:"creatorUser,omitempty"`
	CreatedDate      int64    `json:"createdDate,omitempty" yaml:"createdDate,omitempty"`
	External         bool     `json:"external,omitempty" yaml:"external,omitempty"`
	CrossPod         bool     `json:"crossPod,omitempty" yaml:"crossPod,omitempty"`
	Public           bool     `json:"public,omitempty" yaml:"public,omitempty"`
	CopyProtected    bool     `json:"copyProtected,omitempty" yaml:"copyProtected,omitempty"`
	ReadOnly         bool     `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
	Discoverable     bool     `json:"discoverable,omitempty" yaml:"discoverable,omitempty"`
	MembersCanInvite bool     `json:"membersCanInvite,omitempty" yaml:"membersCanInvite,omitempty"`
	CanViewHistory   bool     `json:"canViewHistory,omitempty" yaml:"canViewHistory,omitempty"`
	Keywords         []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

type MessageSent struct {
	Message Message `json:"message" yaml:"message"`
}

type SharedPost struct {
	Message       Message  `json:"message" yaml:"message"`
	SharedMessage *Message `json:"sharedMessage,omitempty" yaml:"sharedMessage,omitempty"`
}

type MessageSuppressed struct {
	MessageID string  `json:"messageId" yaml:"messageId"`
	Stream    *Stream `json:"stream,omitempty" yaml:"stream,omitempty"`
}

type InstantMessageCreated struct {
	Stream Stream `json:"stream" yaml:"stream"`
}

type RoomCreated struct {
	Stream         Stream          `json:"stream" yaml:"stream"`
	RoomProperties *RoomProperties `json:"roomProperties,omitempty" yaml:"roomProperties,omitempty"`
}

type RoomUpdated struct {
	Stream            Stream          `json:"stream" yaml:"stream"`
	NewRoomProperties *RoomProperties `json:"newRoomProperties,omitempty" yaml:"newRoomProperties,omitempty"`
}

type RoomDeactivated struct {
	Stream Stream `json:"stream" yaml:"stream"`
}

type RoomReactivated struct {
	Stream Stream `json:"stream" yaml:"stream"`
}

// RoomMembership is shared by the join, leave, promote and demote events.
type RoomMembership struct {
	Stream       Stream `json:"stream" yaml:"stream"`
	AffectedUser User   `json:"affectedUser" yaml:"affectedUser"`
}

type ConnectionRequested struct {
	ToUser User `json:"toUser" yaml:"toUser"`
}

type ConnectionAccepted struct {
	FromUser User `json:"fromUser" yaml:"fromUser"`
}

// ElementsAction is a submitted interactive form.
type ElementsAction struct {
	Stream        Stream         `json:"stream" yaml:"stream"`
	FormMessageID string         `json:"formMessageId" yaml:"formMessageId"`
	FormID        string         `json:"formId" yaml:"formId"`
	FormValues    map[string]any `json:"formValues,omitempty" yaml:"formValues,omitempty"`
}
