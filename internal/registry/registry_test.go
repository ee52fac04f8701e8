package registry

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
)

func notified(r *Registry[string]) map[string]string {
	got := make(map[string]string)
	r.NotifyAll(func(tag, v string) { got[tag] = v })
	return got
}

func TestRegisterOverwrites(t *testing.T) {
	r := New[string]()
	r.Register("main", "first")
	r.Register("main", "second")

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	got := notified(r)
	if got["main"] != "second" {
		t.Errorf("observer for %q = %q, want %q", "main", got["main"], "second")
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	r := New[string]()
	r.Register("a", "x")
	r.Remove("missing")
	r.Remove("a")
	r.Remove("a")

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	if got := notified(r); len(got) != 0 {
		t.Errorf("NotifyAll visited %v, want nothing", got)
	}
}

func TestGetAndTags(t *testing.T) {
	r := New[int]()
	r.Register("dive", 2)
	r.Register("main", 1)

	if v, ok := r.Get("dive"); !ok || v != 2 {
		t.Errorf("Get(dive) = %d, %v", v, ok)
	}
	if _, ok := r.Get("data"); ok {
		t.Error("Get(data) should report absent")
	}
	tags := r.Tags()
	if len(tags) != 2 || tags[0] != "dive" || tags[1] != "main" {
		t.Errorf("Tags() = %v, want [dive main]", tags)
	}
}

// Any sequence of register/remove calls leaves exactly the set implied by
// last-write-wins over tags.
func TestLastWriteWinsRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tags := []string{"start", "main", "dive", "data", "dialog"}

	for round := 0; round < 200; round++ {
		r := New[string]()
		model := make(map[string]string)

		for op := 0; op < 30; op++ {
			tag := tags[rng.Intn(len(tags))]
			if rng.Intn(3) == 0 {
				r.Remove(tag)
				delete(model, tag)
				continue
			}
			v := fmt.Sprintf("%s-%d-%d", tag, round, op)
			r.Register(tag, v)
			model[tag] = v
		}

		got := notified(r)
		if len(got) != len(model) {
			t.Fatalf("round %d: notified %d observers, want %d", round, len(got), len(model))
		}
		for tag, v := range model {
			if got[tag] != v {
				t.Fatalf("round %d: observer for %q = %q, want %q", round, tag, got[tag], v)
			}
		}
	}
}

func TestNotifyAllToleratesMutationFromObserver(t *testing.T) {
	r := New[func()]()
	var calls []string

	r.Register("once", func() {
		calls = append(calls, "once")
		r.Remove("once")
		r.Register("late", func() { calls = append(calls, "late") })
	})

	r.NotifyAll(func(_ string, fn func()) { fn() })
	if len(calls) != 1 || calls[0] != "once" {
		t.Fatalf("first pass calls = %v, want [once]", calls)
	}

	calls = nil
	r.NotifyAll(func(_ string, fn func()) { fn() })
	if len(calls) != 1 || calls[0] != "late" {
		t.Errorf("second pass calls = %v, want [late]", calls)
	}
}

func TestConcurrentRegisterDuringNotify(t *testing.T) {
	r := New[int]()
	for i := 0; i < 10; i++ {
		r.Register(fmt.Sprintf("base-%d", i), i)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tag := fmt.Sprintf("w%d-%d", w, i%5)
				r.Register(tag, i)
				r.Remove(tag)
			}
		}(w)
	}
	for n := 0; n < 4; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.NotifyAll(func(tag string, _ int) {
					// Re-entrant mutation must not deadlock.
					if tag == "base-0" {
						r.Register("base-0", 0)
					}
				})
			}
		}()
	}
	wg.Wait()

	tags := r.Tags()
	if !sort.StringsAreSorted(tags) {
		t.Errorf("Tags() not sorted: %v", tags)
	}
	if len(tags) != 10 {
		t.Errorf("Len after concurrent churn = %d, want 10 (%v)", len(tags), tags)
	}
}
