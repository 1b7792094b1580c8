package paysession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newDBStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	s, err := NewDBStore(db)
	if err != nil {
		t.Fatalf("NewDBStore: %v", err)
	}
	return s
}

// eachStore runs fn against both store implementations.
func eachStore(t *testing.T, fn func(t *testing.T, s *Sessions, c *clock)) {
	t.Helper()
	stores := map[string]func(*testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"db":     newDBStore,
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			c := &clock{now: time.Date(2025, 6, 9, 19, 0, 0, 0, time.UTC)}
			fn(t, New(mk(t), WithClock(c.Now)), c)
		})
	}
}

func start(t *testing.T, s *Sessions, callID, res string) *Session {
	t.Helper()
	sess, err := s.Start(context.Background(), StartParams{
		CallID:            callID,
		ReservationNumber: res,
		PaymentType:       TypeReservation,
		CustomerName:      "Alice Lee",
		PhoneNumber:       "+15551234567",
		AmountCents:       1798,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return sess
}

func TestStartAndLifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Sessions, c *clock) {
		ctx := context.Background()
		sess := start(t, s, "call-1", "123456")
		if sess.Step != StepStarted || sess.Attempt != 1 {
			t.Fatalf("session = %+v", sess)
		}

		for _, step := range []string{StepCollectingCard, StepInProgress} {
			c.Advance(time.Second)
			got, err := s.UpdateStep(ctx, "call-1", step)
			if err != nil {
				t.Fatal(err)
			}
			if got.Step != step {
				t.Errorf("step = %s, want %s", got.Step, step)
			}
		}

		got, err := s.Complete(ctx, "call-1", "AB12CD34")
		if err != nil {
			t.Fatal(err)
		}
		if got.Step != StepCompleted || got.ConfirmationNumber != "AB12CD34" {
			t.Errorf("completed = %+v", got)
		}

		got, _ = s.UpdateStep(ctx, "call-1", StepInProgress)
		if got.Step != StepCompleted {
			t.Error("completed sessions must not move")
		}
		got, _ = s.Fail(ctx, "call-1", "card_declined")
		if got.Step != StepCompleted || got.ErrorType != "" {
			t.Error("completed sessions must not fail")
		}
	})
}

func TestStartRefreshesLiveSession(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Sessions, c *clock) {
		ctx := context.Background()
		start(t, s, "call-1", "123456")
		if _, err := s.UpdateStep(ctx, "call-1", StepCollectingCard); err != nil {
			t.Fatal(err)
		}

		c.Advance(time.Minute)
		again, err := s.Start(ctx, StartParams{CallID: "call-1", ReservationNumber: "123456", AmountCents: 2500})
		if err != nil {
			t.Fatal(err)
		}
		if again.Step != StepCollectingCard {
			t.Errorf("step reset to %s", again.Step)
		}
		if again.AmountCents != 2500 || again.CustomerName != "Alice Lee" {
			t.Errorf("refresh = %+v", again)
		}
		if again.Attempt != 1 {
			t.Errorf("attempt = %d", again.Attempt)
		}

		// Another call for the same reservation joins the live session.
		other, err := s.Start(ctx, StartParams{CallID: "call-2", ReservationNumber: "123456"})
		if err != nil {
			t.Fatal(err)
		}
		if other.CallID != "call-1" {
			t.Errorf("expected the live session, got %s", other.CallID)
		}
	})
}

func TestRetryAfterFailureStartsNewAttempt(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Sessions, c *clock) {
		ctx := context.Background()
		start(t, s, "call-1", "123456")
		if _, err := s.Fail(ctx, "call-1", "generic_decline"); err != nil {
			t.Fatal(err)
		}
		c.Advance(time.Minute)
		retry := start(t, s, "call-1", "123456")
		if retry.Step != StepStarted || retry.Attempt != 2 || retry.ErrorType != "" {
			t.Errorf("retry = %+v", retry)
		}
	})
}

func TestGetFallbacks(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Sessions, c *clock) {
		ctx := context.Background()
		start(t, s, "call-1", "123456")

		t.Run("direct", func(t *testing.T) {
			got, err := s.Get(ctx, "call-1", "")
			if err != nil || got.CallID != "call-1" || got.MappedViaFallback {
				t.Fatalf("Get = %+v, %v", got, err)
			}
		})
		t.Run("by reservation", func(t *testing.T) {
			got, err := s.Get(ctx, "cb-1", "123456")
			if err != nil || got.CallID != "call-1" {
				t.Fatalf("Get = %+v, %v", got, err)
			}
		})
		t.Run("most recent", func(t *testing.T) {
			c.Advance(2 * time.Minute)
			got, err := s.Get(ctx, "cb-2", "")
			if err != nil {
				t.Fatal(err)
			}
			if got.CallID != "call-1" || !got.MappedViaFallback {
				t.Errorf("fallback = %+v", got)
			}
			// The mapping makes the next lookup direct.
			if _, err := s.UpdateStep(ctx, "cb-2", StepInProgress); err != nil {
				t.Fatal(err)
			}
			direct, err := s.Get(ctx, "call-1", "")
			if err != nil || direct.Step != StepInProgress {
				t.Errorf("update via alias not applied: %+v, %v", direct, err)
			}
		})
		t.Run("too old", func(t *testing.T) {
			c.Advance(11 * time.Minute)
			if _, err := s.Get(ctx, "cb-3", ""); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	})
}

func TestEndRemovesAliases(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Sessions, c *clock) {
		ctx := context.Background()
		start(t, s, "call-1", "123456")
		if _, err := s.Get(ctx, "cb-1", "123456"); err != nil {
			t.Fatal(err)
		}

		ended, err := s.End(ctx, "cb-1")
		if err != nil || !ended {
			t.Fatalf("End = %v, %v", ended, err)
		}
		st, _ := s.Snapshot(ctx, c.Now())
		if st.Total != 0 {
			t.Errorf("records left: %+v", st.Sessions)
		}
		ended, err = s.End(ctx, "call-1")
		if err != nil || ended {
			t.Errorf("second End = %v, %v", ended, err)
		}
	})
}

func TestSweep(t *testing.T) {
	eachStore(t, func(t *testing.T, s *Sessions, c *clock) {
		ctx := context.Background()
		start(t, s, "old", "111111")
		if _, err := s.Get(ctx, "old-cb", "111111"); err != nil {
			t.Fatal(err)
		}
		c.Advance(25 * time.Minute)
		start(t, s, "fresh", "222222")

		c.Advance(10 * time.Minute)
		res, err := s.Sweep(ctx, c.Now())
		if err != nil {
			t.Fatal(err)
		}
		if res.Expired != 1 || res.Orphaned != 1 {
			t.Errorf("sweep = %+v", res)
		}

		st, _ := s.Snapshot(ctx, c.Now())
		if st.Total != 1 || st.Active != 1 || st.Sessions[0].CallID != "fresh" {
			t.Errorf("snapshot = %+v", st)
		}
		if st.Sessions[0].AgeSeconds != 600 {
			t.Errorf("age = %d", st.Sessions[0].AgeSeconds)
		}
	})
}

func TestStartRequiresCallID(t *testing.T) {
	s := New(NewMemoryStore())
	if _, err := s.Start(context.Background(), StartParams{ReservationNumber: "123456"}); err == nil {
		t.Error("expected error")
	}
	if _, err := s.UpdateStep(context.Background(), "missing", StepInProgress); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
