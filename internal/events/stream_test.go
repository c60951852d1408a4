package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStreamDeliverAndAck(t *testing.T) {
	//1.- Arrange a stream and subscribe a test client.
	stamp := time.Unix(1700000000, 0)
	stream := NewStream(Config{Retain: 8, Now: func() time.Time { return stamp }})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := stream.Subscribe(ctx, "alpha", 4)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	//2.- Publish a launch, a target hit and a landing.
	if _, err := stream.Publish(KindLaunch, 0, map[string]any{"angle": 45.0, "launch_speed": 20.0}); err != nil {
		t.Fatalf("publish launch failed: %v", err)
	}
	if _, err := stream.Publish(KindTargetHit, 41, map[string]any{"x": 300.0, "y": 250.0}); err != nil {
		t.Fatalf("publish hit failed: %v", err)
	}
	if _, err := stream.Publish(KindLanding, 172, map[string]any{"range": 40.5}); err != nil {
		t.Fatalf("publish landing failed: %v", err)
	}

	//3.- Assert sequential delivery and sequential acknowledgement.
	kinds := []Kind{KindLaunch, KindTargetHit, KindLanding}
	for expected := uint64(1); expected <= 3; expected++ {
		select {
		case env := <-sub.Events():
			if env.Sequence != expected || env.Kind != kinds[expected-1] {
				t.Fatalf("unexpected envelope %d: %+v", expected, env)
			}
			if !env.OccurredAt.Equal(stamp) {
				t.Fatalf("expected injected timestamp, got %v", env.OccurredAt)
			}
			if err := sub.Ack(env.Sequence); err != nil {
				t.Fatalf("ack failed: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", expected)
		}
	}
}

func TestStreamRejectsUnknownKind(t *testing.T) {
	stream := NewStream(Config{})
	if _, err := stream.Publish(Kind("explosion"), 0, nil); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
	if _, err := stream.Publish(KindReset, 0, map[string]any{"bad": make(chan int)}); err == nil {
		t.Fatalf("expected payload encoding error")
	}
}

func TestStreamResendsUnackedEventsOnResubscribe(t *testing.T) {
	//1.- Establish the stream and initial subscription.
	stream := NewStream(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := stream.Subscribe(ctx, "bravo", 2)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	//2.- Publish two events and ack only the first.
	if _, err := stream.Publish(KindLaunch, 0, map[string]any{"id": "first"}); err != nil {
		t.Fatalf("publish first failed: %v", err)
	}
	if _, err := stream.Publish(KindReset, 9, map[string]any{"id": "second"}); err != nil {
		t.Fatalf("publish second failed: %v", err)
	}

	env := <-sub.Events()
	if got := env.Payload.GetFields()["id"].GetStringValue(); got != "first" {
		t.Fatalf("expected first event, got %q", got)
	}
	if err := sub.Ack(env.Sequence); err != nil {
		t.Fatalf("ack first failed: %v", err)
	}

	//3.- Drop the second event to simulate packet loss and close the subscription.
	<-sub.Events()
	sub.Close()

	//4.- Re-subscribe and ensure the unacked event is replayed.
	replay, err := stream.Subscribe(ctx, "bravo", 2)
	if err != nil {
		t.Fatalf("resubscribe failed: %v", err)
	}
	select {
	case env := <-replay.Events():
		if got := env.Payload.GetFields()["id"].GetStringValue(); got != "second" {
			t.Fatalf("expected replay of second event, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for replayed event")
	}
}

func TestStreamRejectsOutOfOrderAck(t *testing.T) {
	stream := NewStream(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := stream.Subscribe(ctx, "charlie", 2)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if _, err := stream.Publish(KindChallengeStart, 0, nil); err != nil {
		t.Fatalf("publish start failed: %v", err)
	}
	if _, err := stream.Publish(KindChallengeEnd, 3600, map[string]any{"score": 300.0}); err != nil {
		t.Fatalf("publish end failed: %v", err)
	}

	first := <-sub.Events()
	second := <-sub.Events()

	//1.- Acking the second sequence before the first is rejected.
	if err := sub.Ack(second.Sequence); !errors.Is(err, ErrOutOfOrderAck) {
		t.Fatalf("expected out of order error, got %v", err)
	}
	//2.- Acking in order recovers.
	if err := sub.Ack(first.Sequence); err != nil {
		t.Fatalf("ack first failed: %v", err)
	}
	if err := sub.Ack(second.Sequence); err != nil {
		t.Fatalf("ack second failed: %v", err)
	}
}

func TestStreamRetentionIsBounded(t *testing.T) {
	stream := NewStream(Config{Retain: 3})
	for i := 0; i < 10; i++ {
		if _, err := stream.Publish(KindReset, uint64(i), nil); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}
	latest := stream.Latest(10)
	if len(latest) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(latest))
	}
	if latest[0].Sequence != 8 || latest[2].Sequence != 10 {
		t.Fatalf("unexpected retained window %d..%d", latest[0].Sequence, latest[2].Sequence)
	}
	if stream.LastSequence() != 10 {
		t.Fatalf("unexpected last sequence %d", stream.LastSequence())
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	stream := NewStream(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := stream.Subscribe(ctx, "delta", 1)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	cancel()
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription did not close with its context")
	}
	sub.Release()
	//1.- Publishing after release must not panic or block.
	if _, err := stream.Publish(KindLaunch, 0, nil); err != nil {
		t.Fatalf("publish after release failed: %v", err)
	}
}

func TestEnvelopeStruct(t *testing.T) {
	stream := NewStream(Config{Now: func() time.Time { return time.Unix(0, 0) }})
	if _, err := stream.Publish(KindTargetHit, 12, map[string]any{"score": 100.0}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	msg := stream.Latest(1)[0].Struct()
	fields := msg.GetFields()
	if fields["kind"].GetStringValue() != "target_hit" || fields["tick"].GetNumberValue() != 12 || fields["sequence"].GetNumberValue() != 1 {
		t.Fatalf("unexpected envelope struct %v", msg)
	}
	if fields["payload"].GetStructValue().GetFields()["score"].GetNumberValue() != 100 {
		t.Fatalf("payload not embedded: %v", msg)
	}
	if fields["occurred_at"].GetStringValue() != "1970-01-01T00:00:00Z" {
		t.Fatalf("unexpected timestamp %q", fields["occurred_at"].GetStringValue())
	}
}
