package engine_test

import (
	"fmt"
	"testing"

	"github.com/seantiz/scribe/internal/engine"
)

func drain(ch <-chan string) []string {
	var got []string
	for l := range ch {
		got = append(got, l)
	}
	return got
}

func TestLogBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewLogBroker(0)
	ch, unsub := b.Subscribe("inv1")
	defer unsub()

	lines := []string{"line 1", "line 2", "line 3"}
	for _, l := range lines {
		b.Publish("inv1", l)
	}
	b.Close("inv1")

	got := drain(ch)
	if len(got) != len(lines) {
		t.Fatalf("got %d lines, want %d", len(got), len(lines))
	}
	for i, l := range got {
		if l != lines[i] {
			t.Errorf("line[%d] = %q, want %q", i, l, lines[i])
		}
	}
}

func TestLogBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewLogBroker(0)
	ch1, unsub1 := b.Subscribe("inv1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("inv1")
	defer unsub2()

	b.Publish("inv1", "hello")
	b.Close("inv1")

	for i, ch := range []<-chan string{ch1, ch2} {
		got := drain(ch)
		if len(got) != 1 || got[0] != "hello" {
			t.Errorf("subscriber %d got %v, want [hello]", i+1, got)
		}
	}
}

func TestLogBrokerCloseClosesChannels(t *testing.T) {
	b := engine.NewLogBroker(0)
	ch, unsub := b.Subscribe("inv1")
	defer unsub()

	b.Close("inv1")

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close()")
	}
}

func TestLogBrokerLateSubscriberGetsBacklog(t *testing.T) {
	b := engine.NewLogBroker(0)
	b.Publish("inv1", "early")
	b.Publish("inv1", "later")
	b.Close("inv1")

	ch, unsub := b.Subscribe("inv1")
	defer unsub()

	got := drain(ch)
	if len(got) != 2 || got[0] != "early" || got[1] != "later" {
		t.Errorf("late subscriber got %v, want [early later]", got)
	}
}

func TestLogBrokerMidRunSubscriberReplays(t *testing.T) {
	b := engine.NewLogBroker(0)
	ch1, unsub1 := b.Subscribe("inv1")
	defer unsub1()

	b.Publish("inv1", "line 1")

	ch2, unsub2 := b.Subscribe("inv1")
	defer unsub2()

	b.Publish("inv1", "line 2")
	b.Close("inv1")

	if got := drain(ch1); len(got) != 2 {
		t.Errorf("subscriber 1 got %d lines, want 2", len(got))
	}
	if got := drain(ch2); len(got) != 2 || got[0] != "line 1" {
		t.Errorf("mid-run subscriber got %v, want [line 1 line 2]", got)
	}
}

func TestLogBrokerBacklogIsBounded(t *testing.T) {
	b := engine.NewLogBroker(3)
	for i := 1; i <= 5; i++ {
		b.Publish("inv1", fmt.Sprintf("line %d", i))
	}
	b.Close("inv1")

	ch, unsub := b.Subscribe("inv1")
	defer unsub()
	got := drain(ch)
	want := []string{"line 3", "line 4", "line 5"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLogBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewLogBroker(0)
	ch, unsub := b.Subscribe("inv1")
	unsub()

	b.Publish("inv1", "after unsub")
	b.Close("inv1")

	select {
	case l, ok := <-ch:
		if ok {
			t.Errorf("got unexpected line %q after unsubscribe", l)
		}
	default:
	}
}

func TestLogBrokerForget(t *testing.T) {
	b := engine.NewLogBroker(0)
	b.Publish("inv1", "x")
	b.Forget("inv1")
	b.Close("inv1")
	b.Forget("inv1")

	ch, unsub := b.Subscribe("inv1")
	defer unsub()
	select {
	case l, ok := <-ch:
		if ok {
			t.Errorf("got %q after Forget, want nothing", l)
		}
	default:
	}
	b.Close("inv1")
}
