/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "testing"

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventQueueChanged)

	bus.Publish(EventQueueChanged, Payload{"channel_id": "c1", "revision": int64(3)})

	select {
	case payload := <-sub:
		if payload["channel_id"] != "c1" {
			t.Errorf("payload channel = %v, want c1", payload["channel_id"])
		}
	default:
		t.Fatal("subscriber did not receive event")
	}
}

func TestPublishSkipsOtherEventTypes(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventActivationStarted)

	bus.Publish(EventQueueChanged, Payload{"channel_id": "c1"})

	select {
	case <-sub:
		t.Fatal("subscriber received event of different type")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventQueueChanged)
	bus.Unsubscribe(EventQueueChanged, sub)

	if _, open := <-sub; open {
		t.Error("unsubscribed channel still open")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventQueueChanged, Payload{"channel_id": "c1"})
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventQueueChanged)

	// Overfill the buffer; Publish drops instead of blocking.
	for i := 0; i < 2*cap(sub); i++ {
		bus.Publish(EventQueueChanged, Payload{"n": i})
	}

	received := 0
	for {
		select {
		case <-sub:
			received++
			continue
		default:
		}
		break
	}
	if received != cap(sub) {
		t.Errorf("received = %d, want buffer size %d", received, cap(sub))
	}
}

func TestCloseTearsDownAllSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(EventQueueChanged)
	b := bus.Subscribe(EventActivationStarted)

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, open := <-a; open {
		t.Error("subscriber a still open after close")
	}
	if _, open := <-b; open {
		t.Error("subscriber b still open after close")
	}
}
