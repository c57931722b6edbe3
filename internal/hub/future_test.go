package hub

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureSettlesOnce(t *testing.T) {
	f := NewFuture[int]()
	if f.Settled() {
		t.Fatal("new future should not be settled")
	}
	if !f.Resolve(1) {
		t.Fatal("first Resolve should settle")
	}
	if f.Resolve(2) {
		t.Error("second Resolve should be ignored")
	}
	if f.Reject(errors.New("late")) {
		t.Error("Reject after Resolve should be ignored")
	}

	v, err := f.Wait(context.Background())
	if err != nil || v != 1 {
		t.Errorf("Wait = %d, %v; want 1, nil", v, err)
	}
}

func TestFutureReject(t *testing.T) {
	boom := errors.New("boom")
	f := Rejected[string](boom)
	if _, err := f.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Wait err = %v, want boom", err)
	}
}

func TestFutureWaitContext(t *testing.T) {
	f := NewFuture[struct{}]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait err = %v, want deadline exceeded", err)
	}
	if f.Settled() {
		t.Error("context expiry must not settle the future")
	}
}

func TestFutureThen(t *testing.T) {
	f := NewFuture[int]()
	got := make(chan int, 1)
	f.Then(func(v int, err error) {
		if err == nil {
			got <- v
		}
	})
	f.Resolve(42)

	select {
	case v := <-got:
		if v != 42 {
			t.Errorf("Then got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Then callback not invoked")
	}
}
