package main

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/dgnsrekt/symphony-datafeed/internal/listener"
	"github.com/dgnsrekt/symphony-datafeed/internal/model"
	"github.com/dgnsrekt/symphony-datafeed/internal/pod"
)

func registerLogging(reg *listener.Registry, logger *zap.Logger) {
	logMessage := func(ctx context.Context, ev model.Event, p model.MessageSent) error {
		logger.Info("message",
			zap.String("eventID", ev.ID),
			zap.String("streamType", string(ev.StreamType())),
			zap.Int64("from", ev.InitiatorID()),
			zap.String("text", pod.PlainText(p.Message.Message)),
		)
		return nil
	}
	logMembership := func(action string) listener.Handler[model.RoomMembership] {
		return func(ctx context.Context, ev model.Event, p model.RoomMembership) error {
			logger.Info(action, zap.String("eventID", ev.ID), zap.Int64("by", ev.InitiatorID()))
			return nil
		}
	}

	reg.AddIMListener(&listener.IMListener{
		Name:        "log-im",
		OnIMMessage: logMessage,
		OnIMCreated: func(ctx context.Context, ev model.Event, p model.InstantMessageCreated) error {
			logger.Info("im created", zap.String("eventID", ev.ID))
			return nil
		},
	})
	reg.AddRoomListener(&listener.RoomListener{
		Name:             "log-room",
		OnRoomMessage:    logMessage,
		OnUserJoinedRoom: logMembership("user joined room"),
		OnUserLeftRoom:   logMembership("user left room"),
		OnRoomCreated: func(ctx context.Context, ev model.Event, p model.RoomCreated) error {
			logger.Info("room created", zap.String("eventID", ev.ID))
			return nil
		},
	})
	reg.AddConnectionListener(&listener.ConnectionListener{
		Name: "log-connection",
		OnConnectionRequested: func(ctx context.Context, ev model.Event, p model.ConnectionRequested) error {
			logger.Info("connection requested", zap.Int64("from", ev.InitiatorID()))
			return nil
		},
	})
	reg.AddElementsListener(&listener.ElementsListener{
		Name: "log-elements",
		OnElementsAction: func(ctx context.Context, ev model.Event, p model.ElementsAction) error {
			logger.Info("elements action", zap.String("eventID", ev.ID), zap.Int64("from", ev.InitiatorID()))
			return nil
		},
	})
}

// registerEcho replies to IM and room messages with their own text. A
// failed reply asks for the batch to be replayed.
func registerEcho(reg *listener.Registry, messenger pod.Messenger, logger *zap.Logger) {
	reply := newEchoHandler(messenger, logger)
	reg.AddIMListener(&listener.IMListener{Name: "echo-im", OnIMMessage: reply})
	reg.AddRoomListener(&listener.RoomListener{Name: "echo-room", OnRoomMessage: reply})
}

func newEchoHandler(messenger pod.Messenger, logger *zap.Logger) listener.Handler[model.MessageSent] {
	return func(ctx context.Context, ev model.Event, p model.MessageSent) error {
		if p.Message.Stream == nil || p.Message.Stream.StreamID == "" {
			return nil
		}
		text := strings.TrimSpace(pod.PlainText(p.Message.Message))
		if text == "" {
			return nil
		}
		sent, err := messenger.SendMessage(ctx, p.Message.Stream.StreamID, pod.MessageML(text))
		if err != nil {
			return listener.NewEventError("echo reply failed", err)
		}
		logger.Debug("echoed", zap.String("streamID", p.Message.Stream.StreamID), zap.String("messageID", sent.MessageID))
		return nil
	}
}
