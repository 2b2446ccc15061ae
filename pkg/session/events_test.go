package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/tether/pkg/daemon"
)

func TestEvents_HistoryIsBounded(t *testing.T) {
	e := NewEvents(2)
	e.Emit(NewEvent(EventOutput, "a").WithData("line", "1"))
	e.Emit(NewEvent(EventOutput, "b").WithData("line", "2"))
	e.Emit(NewEvent(EventOutput, "a").WithData("line", "3"))

	all := e.History("")
	require.Len(t, all, 2)
	assert.Equal(t, "2", all[0].Data["line"])
	assert.Equal(t, "3", all[1].Data["line"])

	onlyA := e.History("a")
	require.Len(t, onlyA, 1)
	assert.Equal(t, "3", onlyA[0].Data["line"])
}

func TestEvents_SubscribeUnsubscribeClose(t *testing.T) {
	e := NewEvents(0)
	ch := e.Subscribe()
	assert.Equal(t, 1, e.Subscribers())

	e.Emit(NewEvent(EventOpened, "x"))
	select {
	case ev := <-ch:
		assert.Equal(t, EventOpened, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	e.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok, "unsubscribe closes the channel")
	assert.Zero(t, e.Subscribers())

	other := e.Subscribe()
	e.Close()
	_, ok = <-other
	assert.False(t, ok, "close closes every subscription")

	e.Emit(NewEvent(EventClosed, "x"))
	assert.Len(t, e.History(""), 1, "events after close are dropped")

	_, ok = <-e.Subscribe()
	assert.False(t, ok, "subscribing after close yields a closed channel")

	var nilEvents *Events
	nilEvents.Emit(NewEvent(EventOutput, "x"))
}

func TestEvents_SessionLifecycle(t *testing.T) {
	st := newTestStore(t)
	ch := st.Events().Subscribe()

	s, err := st.Open(context.Background(), Config{Spec: daemon.Spec{
		Identity: "ev",
		Command:  "exec /bin/sh",
		Filters:  []string{"hunter2"},
	}})
	require.NoError(t, err)

	var seen []string
	_, err = s.Exec(context.Background(), "echo one; echo pw=hunter2"+succeed, 5*time.Second, func(line string) {
		seen = append(seen, line)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "pw=" + daemon.FilteredToken}, seen, "caller onLine still receives lines")

	require.NoError(t, st.Close("ev"))

	var types []EventType
	var lines []any
	timeout := time.After(2 * time.Second)
	for len(types) < 5 {
		select {
		case ev := <-ch:
			assert.Equal(t, "ev", ev.Identity)
			types = append(types, ev.Type)
			if ev.Type == EventOutput {
				lines = append(lines, ev.Data["line"])
			}
			if ev.Type == EventExchange {
				assert.Equal(t, KindExec, ev.Data["kind"])
				assert.NotContains(t, ev.Data["input"], "hunter2")
			}
		case <-timeout:
			t.Fatalf("missing events, got %v", types)
		}
	}

	assert.Equal(t, []EventType{EventOpened, EventOutput, EventOutput, EventExchange, EventClosed}, types)
	assert.Equal(t, []any{"one", "pw=" + daemon.FilteredToken}, lines)
}
