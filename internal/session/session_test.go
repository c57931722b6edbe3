package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fruitsalade/hubwatch/internal/hub/hubtest"
)

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.After(time.Second)
	for m.State() != want {
		select {
		case <-deadline:
			t.Fatalf("state = %v, want %v", m.State(), want)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestConnectThenLose(t *testing.T) {
	fake := hubtest.New()
	m := New(fake.Loader(), "hub://test")

	if m.State() != Connecting {
		t.Fatalf("initial state = %v", m.State())
	}
	if _, err := m.Facade(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Facade before connect err = %v, want ErrNotConnected", err)
	}

	var mu sync.Mutex
	var seen []State
	m.OnStateChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start err = %v", err)
	}

	fake.MarkAlive()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	facade, err := m.BecameConnected().Wait(ctx)
	if err != nil {
		t.Fatalf("BecameConnected: %v", err)
	}
	if facade == nil {
		t.Fatal("nil facade")
	}
	if m.State() != Connected {
		t.Errorf("state = %v, want connected", m.State())
	}
	if m.BecameDisconnected().Settled() {
		t.Error("disconnected settled too early")
	}

	fake.Kill()
	if _, err := m.BecameDisconnected().Wait(ctx); err != nil {
		t.Fatalf("BecameDisconnected: %v", err)
	}
	waitState(t, m, ConnectionLost)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != Connected || seen[1] != ConnectionLost {
		t.Errorf("transitions = %v, want [connected connection_lost]", seen)
	}
}

func TestLoadFailureIsFatal(t *testing.T) {
	loadErr := errors.New("script 404")
	m := New(hubtest.FailingLoader(loadErr), "hub://missing")
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := m.BecameConnected().Wait(ctx)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("err = %v, want ErrConnectionFailed", err)
	}
	if !errors.Is(err, loadErr) {
		t.Errorf("err = %v, want it to wrap the load error", err)
	}
	waitState(t, m, ConnectionFailed)
	if !errors.Is(m.Err(), ErrConnectionFailed) {
		t.Errorf("Err() = %v", m.Err())
	}
	if m.BecameDisconnected().Settled() {
		t.Error("failed session must not report disconnected")
	}
}

func TestAliveRejectionIsFatal(t *testing.T) {
	fake := hubtest.New()
	m := New(fake.Loader(), "hub://test")
	m.Start(context.Background())

	fake.RejectAlive(errors.New("handshake refused"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := m.BecameConnected().Wait(ctx); !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("err = %v, want ErrConnectionFailed", err)
	}
	waitState(t, m, ConnectionFailed)

	// Terminal: a late dead signal changes nothing.
	fake.Kill()
	time.Sleep(10 * time.Millisecond)
	if m.State() != ConnectionFailed {
		t.Errorf("state = %v after late kill", m.State())
	}
}

func TestStartContextCancelledBeforeAlive(t *testing.T) {
	fake := hubtest.New()
	m := New(fake.Loader(), "hub://test")
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	wctx, wcancel := context.WithTimeout(context.Background(), time.Second)
	defer wcancel()
	if _, err := m.BecameConnected().Wait(wctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled wrapped", err)
	}
	waitState(t, m, ConnectionFailed)
}

func TestStateStrings(t *testing.T) {
	tests := map[State]string{
		Connecting:       "connecting",
		Connected:        "connected",
		ConnectionLost:   "connection_lost",
		ConnectionFailed: "connection_failed",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
	if Connecting.Terminal() || Connected.Terminal() {
		t.Error("non-terminal states reported terminal")
	}
}
