// Package listener routes datafeed events to user callbacks.
//
// Listeners are grouped by category. Each category has its own struct of
// optional callbacks; a nil callback is simply not invoked, so a listener
// only sets the fields it cares about:
//
//	reg.AddRoomListener(&listener.RoomListener{
//	    Name: "greeter",
//	    OnUserJoinedRoom: func(ctx context.Context, ev model.Event, p model.RoomMembership) error {
//	        return nil
//	    },
//	})
package listener

import (
	"context"

	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

// Handler is the signature shared by every callback. Returning an
// *EventError asks for the batch to be replayed (v2 only).
type Handler[T any] func(ctx context.Context, ev model.Event, payload T) error

// Category groups the event types a listener kind receives.
type Category int

const (
	CategoryNone Category = iota
	CategoryRoom
	CategoryIM
	CategoryWallPost
	CategorySuppression
	CategoryConnection
	CategoryElements
)

func (c Category) String() string {
	switch c {
	case CategoryRoom:
		return "room"
	case CategoryIM:
		return "im"
	case CategoryWallPost:
		return "wall-post"
	case CategorySuppression:
		return "suppression"
	case CategoryConnection:
		return "connection"
	case CategoryElements:
		return "elements"
	default:
		return "none"
	}
}

type RoomListener struct {
	Name                         string
	OnRoomMessage                Handler[model.MessageSent]
	OnRoomCreated                Handler[model.RoomCreated]
	OnRoomUpdated                Handler[model.RoomUpdated]
	OnRoomDeactivated            Handler[model.RoomDeactivated]
	OnRoomReactivated            Handler[model.RoomReactivated]
	OnUserJoinedRoom             Handler[model.RoomMembership]
	OnUserLeftRoom               Handler[model.RoomMembership]
	OnRoomMemberPromotedToOwner  Handler[model.RoomMembership]
	OnRoomMemberDemotedFromOwner Handler[model.RoomMembership]
}

type IMListener struct {
	Name        string
	OnIMMessage Handler[model.MessageSent]
	OnIMCreated Handler[model.InstantMessageCreated]
}

type WallPostListener struct {
	Name              string
	OnWallPostMessage Handler[model.MessageSent]
	OnSharedPost      Handler[model.SharedPost]
}

type SuppressionListener struct {
	Name                 string
	OnMessageSuppression Handler[model.MessageSuppressed]
}

type ConnectionListener struct {
	Name                  string
	OnConnectionRequested Handler[model.ConnectionRequested]
	OnConnectionAccepted  Handler[model.ConnectionAccepted]
}

type ElementsListener struct {
	Name             string
	OnElementsAction Handler[model.ElementsAction]
}

func (l *RoomListener) ListenerName() string        { return nameOr(l.Name, "room-listener") }
func (l *IMListener) ListenerName() string          { return nameOr(l.Name, "im-listener") }
func (l *WallPostListener) ListenerName() string    { return nameOr(l.Name, "wall-post-listener") }
func (l *SuppressionListener) ListenerName() string { return nameOr(l.Name, "suppression-listener") }
func (l *ConnectionListener) ListenerName() string  { return nameOr(l.Name, "connection-listener") }
func (l *ElementsListener) ListenerName() string    { return nameOr(l.Name, "elements-listener") }

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
