package wire

import "testing"

func TestNewAndDecodeRoundTrip(t *testing.T) {
	payload := PodAssignPayload{PodID: "pod-1", Incarnation: 3, PackName: "web", PackVersion: "1.2.0"}

	msg, err := New(TypePodAssign, "corr-1", payload)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if msg.Type != TypePodAssign {
		t.Errorf("Type = %q, want %q", msg.Type, TypePodAssign)
	}
	if msg.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", msg.CorrelationID)
	}

	var decoded PodAssignPayload
	if err := msg.Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.PodID != payload.PodID || decoded.Incarnation != payload.Incarnation ||
		decoded.PackName != payload.PackName || decoded.PackVersion != payload.PackVersion {
		t.Errorf("decoded = %+v, want %+v", decoded, payload)
	}
}

func TestNewRejectsUnmarshalablePayload(t *testing.T) {
	if _, err := New(TypePodStatus, "", make(chan int)); err == nil {
		t.Error("expected marshalling a channel to fail")
	}
}

func TestDecodeRejectsMismatchedShape(t *testing.T) {
	msg := Message{Type: TypePodAssign, Payload: []byte(`{"id": 5}`)}
	var decoded PodAssignPayload
	if err := msg.Decode(&decoded); err == nil {
		t.Error("expected decoding a numeric id into a string field to fail")
	}
}
