package scheduler

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
)

var t0 = time.Date(2025, 6, 9, 18, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTickRunsDueJobs(t *testing.T) {
	s := New(WithClock(fixedClock(t0)))
	var fast, slow int
	if err := s.Add(Job{Name: "fast", Interval: time.Minute, Run: func(context.Context, time.Time) error { fast++; return nil }}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(Job{Name: "slow", Interval: 5 * time.Minute, Run: func(context.Context, time.Time) error { slow++; return nil }}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if ran := s.Tick(ctx, t0.Add(30*time.Second)); len(ran) != 0 {
		t.Errorf("nothing should be due, ran %v", ran)
	}
	if ran := s.Tick(ctx, t0.Add(time.Minute)); !reflect.DeepEqual(ran, []string{"fast"}) {
		t.Errorf("ran %v", ran)
	}
	if ran := s.Tick(ctx, t0.Add(5*time.Minute)); !reflect.DeepEqual(ran, []string{"fast", "slow"}) {
		t.Errorf("ran %v", ran)
	}
	if fast != 2 || slow != 1 {
		t.Errorf("fast=%d slow=%d", fast, slow)
	}
}

func TestTickRecordsFailuresAndPanics(t *testing.T) {
	s := New(WithClock(fixedClock(t0)))
	_ = s.Add(Job{Name: "fails", Interval: time.Minute, Run: func(context.Context, time.Time) error { return errors.New("boom") }})
	_ = s.Add(Job{Name: "panics", Interval: time.Minute, Run: func(context.Context, time.Time) error { panic("oops") }})

	s.Tick(context.Background(), t0.Add(time.Minute))

	for _, st := range s.Status() {
		if st.Runs != 1 || st.Errors != 1 || st.LastError == "" {
			t.Errorf("%s: %+v", st.Name, st)
		}
		if !st.NextRun.Equal(t0.Add(2 * time.Minute)) {
			t.Errorf("%s next run = %v", st.Name, st.NextRun)
		}
	}
}

func TestAddValidates(t *testing.T) {
	s := New()
	noop := func(context.Context, time.Time) error { return nil }
	if err := s.Add(Job{Name: "x", Run: noop}); err == nil {
		t.Error("expected error for zero interval")
	}
	_ = s.Add(Job{Name: "x", Interval: time.Second, Run: noop})
	if err := s.Add(Job{Name: "x", Interval: time.Second, Run: noop}); !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(WithResolution(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPaymentSweepJob(t *testing.T) {
	now := t0
	sessions := paysession.New(paysession.NewMemoryStore(), paysession.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	if _, err := sessions.Start(ctx, paysession.StartParams{CallID: "call-1", ReservationNumber: "123456", AmountCents: 1798}); err != nil {
		t.Fatal(err)
	}

	s := New(WithClock(fixedClock(t0)))
	if err := s.Add(PaymentSweep(sessions)); err != nil {
		t.Fatal(err)
	}

	s.Tick(ctx, t0.Add(SweepInterval))
	if _, err := sessions.Get(ctx, "call-1", ""); err != nil {
		t.Fatalf("fresh session swept: %v", err)
	}

	s.Tick(ctx, t0.Add(35*time.Minute))
	if _, err := sessions.GetByReservation(ctx, "123456"); !errors.Is(err, paysession.ErrNotFound) {
		t.Errorf("stale session survived: %v", err)
	}
}

func TestMemoryPruneJob(t *testing.T) {
	m := memory.New()
	m.Record("call-old", "get_menu", t0)
	m.Record("call-new", "get_menu", t0.Add(23*time.Hour))

	s := New(WithClock(fixedClock(t0.Add(24 * time.Hour))))
	if err := s.Add(MemoryPrune(m, 0)); err != nil {
		t.Fatal(err)
	}
	s.Tick(context.Background(), t0.Add(25*time.Hour))

	if m.Len() != 1 {
		t.Errorf("sessions = %d, want 1", m.Len())
	}
}
