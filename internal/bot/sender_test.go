package bot

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type stubSender struct {
	calls      int
	failFirst  int
	deliveryID string
}

func (s *stubSender) Send(ctx context.Context, userID int64, msg Message) (string, error) {
	s.calls++
	if s.calls <= s.failFirst {
		return "", errors.New("bridge unavailable")
	}
	return s.deliveryID, nil
}

func TestRetrySender_Success(t *testing.T) {
	stub := &stubSender{deliveryID: "d-1"}
	s := NewRetrySender(stub, zap.NewNop(), 3)

	id, err := s.Send(context.Background(), 1, Message{Text: "hi"})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if id != "d-1" {
		t.Fatalf("delivery id = %q, want d-1", id)
	}
	if stub.calls != 1 {
		t.Fatalf("calls = %d, want 1", stub.calls)
	}
}

func TestRetrySender_SwallowsFinalFailure(t *testing.T) {
	stub := &stubSender{failFirst: 10}
	s := NewRetrySender(stub, zap.NewNop(), 0)

	id, err := s.Send(context.Background(), 1, Message{Text: "hi"})
	if err != nil {
		t.Fatalf("delivery failure must be swallowed, got %v", err)
	}
	if id != "" {
		t.Fatalf("delivery id = %q, want empty on failure", id)
	}
	if stub.calls != 1 {
		t.Fatalf("calls = %d, want 1 with zero retries", stub.calls)
	}
}
