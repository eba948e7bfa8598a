/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package registry

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

type fakeHandle struct {
	mu      sync.Mutex
	stopped int
	err     error
}

func (f *fakeHandle) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return f.err
}

func mustRegister(t *testing.T, r *Registry[*fakeHandle], key string, h *fakeHandle) {
	t.Helper()
	if err := r.Register(key, h); err != nil {
		t.Fatalf("Register(%s): %v", key, err)
	}
}

func TestRegisterReplacesAndStopsPrevious(t *testing.T) {
	r := New[*fakeHandle]()
	first, second := &fakeHandle{}, &fakeHandle{}

	mustRegister(t, r, "room-a", first)
	mustRegister(t, r, "room-a", second)
	if first.stopped != 1 || second.stopped != 0 {
		t.Fatalf("stopped = %d/%d, want 1/0", first.stopped, second.stopped)
	}

	got, ok := r.Get("room-a")
	if !ok || got != second {
		t.Fatalf("Get = %p, %v; want the replacement", got, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestStopRemovesHandle(t *testing.T) {
	r := New[*fakeHandle]()
	h := &fakeHandle{}
	mustRegister(t, r, "k", h)

	if err := r.Stop("k"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.stopped != 1 {
		t.Fatalf("stopped = %d, want 1", h.stopped)
	}
	if _, ok := r.Get("k"); ok {
		t.Fatal("handle still registered after Stop")
	}
	if err := r.Stop("k"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Stop err = %v, want ErrNotRunning", err)
	}
}

func TestStopAllJoinsErrors(t *testing.T) {
	r := New[*fakeHandle]()
	boom := errors.New("boom")
	ok1, bad := &fakeHandle{}, &fakeHandle{err: boom}
	mustRegister(t, r, "a", ok1)
	mustRegister(t, r, "b", bad)

	if err := r.StopAll(); !errors.Is(err, boom) {
		t.Fatalf("StopAll err = %v, want %v", err, boom)
	}
	if ok1.stopped != 1 || bad.stopped != 1 {
		t.Fatalf("stopped = %d/%d, want 1/1", ok1.stopped, bad.stopped)
	}
	if keys := r.Keys(); len(keys) != 0 {
		t.Fatalf("keys after StopAll = %v", keys)
	}
}

func TestKeysSorted(t *testing.T) {
	r := New[*fakeHandle]()
	for _, k := range []string{"c", "a", "b"} {
		mustRegister(t, r, k, &fakeHandle{})
	}
	if keys := r.Keys(); !reflect.DeepEqual(keys, []string{"a", "b", "c"}) {
		t.Fatalf("Keys = %v", keys)
	}
}

func TestConcurrentRegister(t *testing.T) {
	r := New[*fakeHandle]()
	var wg sync.WaitGroup
	handles := make([]*fakeHandle, 50)
	for i := range handles {
		handles[i] = &fakeHandle{}
		wg.Add(1)
		go func(h *fakeHandle) {
			defer wg.Done()
			_ = r.Register("shared", h)
		}(handles[i])
	}
	wg.Wait()

	stopped := 0
	for _, h := range handles {
		stopped += h.stopped
	}
	// Every replaced handle is stopped exactly once.
	if stopped != len(handles)-1 {
		t.Fatalf("stopped = %d, want %d", stopped, len(handles)-1)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}
