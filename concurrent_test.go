package updatechan_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creachadair/updatechan"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func TestTakeRace(t *testing.T) {
	defer leaktest.Check(t)()

	const numReceivers = 8
	const numRounds = 50

	r, u := updatechan.NewDefault[int]()
	rs := []*updatechan.Receiver[int]{r}
	for len(rs) < numReceivers {
		rs = append(rs, r.Clone())
	}

	// In each round, a single published value is taken by exactly one of the
	// competing receivers.
	for round := 1; round <= numRounds; round++ {
		mustUpdate(t, u, round)

		var winners atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for _, rc := range rs {
			wg.Go(func() {
				<-start
				got, err := rc.TakeUpdate()
				if err != nil {
					t.Errorf("TakeUpdate: unexpected error: %v", err)
				} else if got.Present() {
					winners.Add(1)
				}
			})
		}
		close(start)
		wg.Wait()

		if n := winners.Load(); n != 1 {
			t.Errorf("Round %d: %d receivers took the update, want 1", round, n)
		}
	}
}

func TestFanOut(t *testing.T) {
	defer leaktest.Check(t)()

	const numReceivers = 8

	r, u := updatechan.NewWith("")
	rs := []*updatechan.Receiver[string]{r}
	for len(rs) < numReceivers {
		rs = append(rs, r.Clone())
	}
	mustUpdate(t, u, "apple")

	got := make([]string, numReceivers)
	var wg sync.WaitGroup
	for i, rc := range rs {
		wg.Go(func() {
			old, err := rc.RecvUpdate()
			if err != nil || !old.Present() {
				t.Errorf("RecvUpdate: got %v, %v; want present, nil", old, err)
			}
			got[i] = rc.Borrow()
		})
	}
	wg.Wait()

	want := make([]string, numReceivers)
	for i := range want {
		want[i] = "apple"
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Received values (-want, +got):\n%s", diff)
	}

	// Every receiver saw the value, and it is still there.
	if v, err := r.GetCloned(); err != nil || v.Get() != "apple" {
		t.Errorf("GetCloned: got %v, %v; want apple, nil", v, err)
	}
}

func TestOrdering(t *testing.T) {
	defer leaktest.Check(t)()

	const numValues = 2000
	const numReceivers = 4

	r, u := updatechan.NewDefault[int]()
	rs := []*updatechan.Receiver[int]{r}
	for len(rs) < numReceivers {
		rs = append(rs, r.Clone())
	}

	// Publish increasing values while receivers pull concurrently. Since
	// updates are ordered, no receiver may ever see its buffer go backward.
	var wg sync.WaitGroup
	wg.Go(func() {
		for i := 1; i <= numValues; i++ {
			if err := u.Update(i); err != nil {
				t.Errorf("Update(%d): unexpected error: %v", i, err)
				return
			}
		}
	})
	for i, rc := range rs {
		wg.Go(func() {
			last := 0
			for last < numValues {
				var err error
				if i%2 == 0 {
					_, err = rc.RecvUpdateChecked()
				} else {
					_, err = rc.RecvUpdate()
				}
				if err != nil {
					t.Errorf("Receiver %d: unexpected error: %v", i, err)
					return
				}
				cur := rc.Borrow()
				if cur < last {
					t.Errorf("Receiver %d: value went from %d to %d", i, last, cur)
					return
				}
				last = cur
			}
		})
	}
	wg.Wait()
}

func TestBorrowLockedBlocksUpdate(t *testing.T) {
	defer leaktest.Check(t)()

	r, u := updatechan.NewWith(1)
	mustUpdate(t, u, 2)

	g, err := r.BorrowLocked()
	if err != nil {
		t.Fatalf("BorrowLocked: unexpected error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := u.Update(3); err != nil {
			t.Errorf("Update: unexpected error: %v", err)
		}
	}()

	select {
	case <-done:
		t.Error("Update completed while the read lock was held")
	case <-time.After(50 * time.Millisecond):
		t.Log("OK, update is blocked by the guard")
	}
	if got := g.Get().Get(); got != 2 {
		t.Errorf("Get: got %d, want 2", got)
	}
	g.Release()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for Update")
	}
	if v, err := r.GetCloned(); err != nil || v.Get() != 3 {
		t.Errorf("GetCloned: got %v, %v; want 3, nil", v, err)
	}
}

func TestConcurrentUpdaters(t *testing.T) {
	defer leaktest.Check(t)()

	r, u := updatechan.NewDefault[int]()

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		uc := u.Clone()
		wg.Go(func() {
			defer uc.Close()
			if err := uc.Update(i); err != nil {
				t.Errorf("Update(%d): unexpected error: %v", i, err)
			}
		})
	}
	wg.Wait()
	u.Close()

	if r.HasUpdater() {
		t.Error("HasUpdater: got true, want false")
	}

	// Exactly one of the published values survives.
	got, err := r.TakeUpdate()
	if err != nil || !got.Present() {
		t.Fatalf("TakeUpdate: got %v, %v; want present, nil", got, err)
	}
	if v := r.Borrow(); v < 1 || v > 10 {
		t.Errorf("Borrow: got %d, want a value in [1, 10]", v)
	}
}
