package events

import (
	"testing"
	"time"
)

func TestNewSinkWithoutURLIsDisabledAndCountsDrops(t *testing.T) {
	s := NewSink(Config{})
	defer s.Close()

	s.Emit(Event{Category: CategoryNode, Type: TypeNodeLost})

	deadline := time.Now().Add(time.Second)
	for s.DropCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the disabled sink to count the dropped event")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSinkEmitDoesNotBlockWhenBufferIsFull(t *testing.T) {
	s := NewSink(Config{Buffer: 1})
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Emit(Event{Category: CategoryPod, Type: TypePodRevoked})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked despite a full buffer; it must drop the oldest entry instead")
	}
}

func TestSubjectNaming(t *testing.T) {
	e := Event{Category: CategoryDeployment, Type: TypeDeploymentStalled}
	if got, want := subject(e), "orchestrator.deployment.DeploymentStalled"; got != want {
		t.Errorf("subject() = %q, want %q", got, want)
	}
}
