package podfaker

import (
	"strings"
	"testing"

	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

const seedYAML = `
streams:
  room-1: ROOM
  im-1: IM
events:
  - type: MESSAGESENT
    initiator:
      user:
        userId: 789
    payload:
      messageSent:
        message:
          messageId: m-1
          message: "<div>hello</div>"
          stream:
            streamId: room-1
            streamType: ROOM
  - id: fixed
    type: ROOMCREATED
    payload:
      roomCreated:
        stream:
          streamId: room-1
`

func TestLoadSeed(t *testing.T) {
	seed, err := LoadSeed(strings.NewReader(seedYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seed.Streams["im-1"] != model.StreamIM {
		t.Errorf("expected im-1 to be IM, got %q", seed.Streams["im-1"])
	}
	if len(seed.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(seed.Events))
	}
	first := seed.Events[0]
	if first.ID == "" || first.Timestamp == 0 {
		t.Error("expected missing id and timestamp to be filled")
	}
	if first.InitiatorID() != 789 || first.StreamType() != model.StreamRoom {
		t.Errorf("unexpected first event %+v", first)
	}
	if seed.Events[1].ID != "fixed" {
		t.Errorf("expected explicit id kept, got %s", seed.Events[1].ID)
	}
}

func TestLoadSeed_Errors(t *testing.T) {
	if _, err := LoadSeed(strings.NewReader("events:\n  - id: x\n")); err == nil {
		t.Error("expected error for event without type")
	}
	if _, err := LoadSeed(strings.NewReader("bogus: true\n")); err == nil {
		t.Error("expected error for unknown field")
	}
	seed, err := LoadSeed(strings.NewReader(""))
	if err != nil || len(seed.Events) != 0 {
		t.Errorf("expected empty seed, got %+v %v", seed, err)
	}
}
