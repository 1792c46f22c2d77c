package gateway

import (
	"encoding/json"
	"testing"
)

func TestDecodeEventTypes(t *testing.T) {
	tests := []struct {
		kind    EventKind
		payload string
		check   func(t *testing.T, got any)
	}{
		{
			kind:    EventSendMessage,
			payload: `{"room_id":"r1","content":"hi","reply_to":"m0"}`,
			check: func(t *testing.T, got any) {
				p, ok := got.(sendMessagePayload)
				if !ok {
					t.Fatalf("decoded %T", got)
				}
				if p.RoomID != "r1" || p.Content != "hi" || p.ReplyTo != "m0" {
					t.Errorf("payload = %+v", p)
				}
			},
		},
		{
			kind:    EventMarkRead,
			payload: `{"room_id":"r1","message_ids":["m1","m2"]}`,
			check: func(t *testing.T, got any) {
				p, ok := got.(markReadPayload)
				if !ok {
					t.Fatalf("decoded %T", got)
				}
				if len(p.MessageIDs) != 2 {
					t.Errorf("payload = %+v", p)
				}
			},
		},
		{
			kind:    EventTypingStop,
			payload: `{"room_id":"r1"}`,
			check: func(t *testing.T, got any) {
				if _, ok := got.(roomPayload); !ok {
					t.Fatalf("decoded %T", got)
				}
			},
		},
		{
			kind:    EventFetchHistory,
			payload: `{"room_id":"r1","limit":25}`,
			check: func(t *testing.T, got any) {
				p, ok := got.(fetchHistoryPayload)
				if !ok {
					t.Fatalf("decoded %T", got)
				}
				if p.Limit != 25 {
					t.Errorf("payload = %+v", p)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := decodeEvent(envelope{Event: tt.kind, Payload: json.RawMessage(tt.payload)})
			if err != nil {
				t.Fatalf("decodeEvent: %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestDecodeEventRejectsUnknownKind(t *testing.T) {
	_, err := decodeEvent(envelope{Event: "format-disk", Payload: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("unknown event kind accepted")
	}
}

func TestDecodeEventRejectsMalformedPayload(t *testing.T) {
	_, err := decodeEvent(envelope{Event: EventSendMessage, Payload: json.RawMessage(`[1,2]`)})
	if err == nil {
		t.Fatal("malformed payload accepted")
	}
}
