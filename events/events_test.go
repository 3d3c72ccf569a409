// Copyright (C) 2024 The Project Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package events_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/syncspirit/syncspirit/events"
)

const timeout = 100 * time.Millisecond

func TestNewLogger(t *testing.T) {
	if events.NewLogger() == nil {
		t.Fatal("unexpected nil Logger")
	}
}

func TestSubscriber(t *testing.T) {
	l := events.NewLogger()
	s := l.Subscribe(0)
	defer l.Unsubscribe(s)
	if s == nil {
		t.Fatal("unexpected nil Subscription")
	}
}

func TestTimeout(t *testing.T) {
	l := events.NewLogger()
	s := l.Subscribe(0)
	defer l.Unsubscribe(s)
	if _, err := s.Poll(timeout); err != events.ErrTimeout {
		t.Fatal("unexpected non-timeout error:", err)
	}
}

func TestEventBeforeSubscribe(t *testing.T) {
	l := events.NewLogger()
	l.Log(events.DeviceConnected, "foo")

	s := l.Subscribe(0)
	defer l.Unsubscribe(s)
	if _, err := s.Poll(timeout); err != events.ErrTimeout {
		t.Fatal("unexpected non-timeout error:", err)
	}
}

func TestEventAfterSubscribe(t *testing.T) {
	l := events.NewLogger()
	s := l.Subscribe(events.AllEvents)
	defer l.Unsubscribe(s)

	l.Log(events.DeviceConnected, "foo")
	ev, err := s.Poll(timeout)
	if err != nil {
		t.Fatal("unexpected error:", err)
	}
	if ev.Type != events.DeviceConnected {
		t.Error("incorrect event type", ev.Type)
	}
	if v, ok := ev.Data.(string); !ok || v != "foo" {
		t.Errorf("incorrect data %#v", ev.Data)
	}
}

func TestEventAfterSubscribeIgnoreMask(t *testing.T) {
	l := events.NewLogger()
	s := l.Subscribe(events.DeviceDisconnected)
	defer l.Unsubscribe(s)

	l.Log(events.DeviceConnected, "foo")
	if _, err := s.Poll(timeout); err != events.ErrTimeout {
		t.Fatal("unexpected non-timeout error:", err)
	}
}

func TestBufferOverflow(t *testing.T) {
	l := events.NewLogger()
	s := l.Subscribe(events.AllEvents)
	defer l.Unsubscribe(s)

	t0 := time.Now()
	for i := 0; i < events.BufferSize*2; i++ {
		l.Log(events.DeviceConnected, "foo")
	}
	if time.Since(t0) > timeout {
		t.Fatal("logging took too long")
	}
}

func TestUnsubscribe(t *testing.T) {
	l := events.NewLogger()
	s := l.Subscribe(events.AllEvents)

	l.Log(events.DeviceConnected, "foo")
	if _, err := s.Poll(timeout); err != nil {
		t.Fatal("unexpected error:", err)
	}

	l.Unsubscribe(s)
	l.Log(events.DeviceConnected, "foo")
	if _, err := s.Poll(timeout); err != events.ErrClosed {
		t.Fatal("unexpected non-closed error:", err)
	}
}

func TestIDs(t *testing.T) {
	l := events.NewLogger()
	s := l.Subscribe(events.AllEvents)
	defer l.Unsubscribe(s)

	l.Log(events.DeviceConnected, "foo")
	l.Log(events.DeviceConnected, "bar")

	ev, err := s.Poll(timeout)
	if err != nil {
		t.Fatal("unexpected error:", err)
	}
	if ev.Data.(string) != "foo" {
		t.Fatal("incorrect event:", ev)
	}
	id := ev.ID

	ev, err = s.Poll(timeout)
	if err != nil {
		t.Fatal("unexpected error:", err)
	}
	if ev.Data.(string) != "bar" {
		t.Fatal("incorrect event:", ev)
	}
	if !(ev.ID > id) {
		t.Fatalf("ID not incremented (%d !> %d)", ev.ID, id)
	}
}

func TestBufferedSub(t *testing.T) {
	l := events.NewLogger()
	s := l.Subscribe(events.AllEvents)
	defer l.Unsubscribe(s)
	bs := events.NewBufferedSubscription(s, 10*events.BufferSize)

	go func() {
		for i := 0; i < 10*events.BufferSize; i++ {
			l.Log(events.DeviceConnected, fmt.Sprintf("event-%d", i))
			if i%30 == 0 {
				time.Sleep(20 * time.Millisecond)
			}
		}
	}()

	recv := 0
	deadline := time.Now().Add(5 * time.Second)
	for recv < 10*events.BufferSize {
		if time.Now().After(deadline) {
			t.Fatalf("timed out, received %d of %d", recv, 10*events.BufferSize)
		}
		evs := bs.Since(recv, nil)
		for _, ev := range evs {
			recv = ev.ID
		}
	}
}
