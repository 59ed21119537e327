package relay

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/command-relay/internal/domain"
)

func cmd(s string) domain.Command { return domain.Command(`"` + s + `"`) }

func TestQueue_FIFOAndDrainEmpties(t *testing.T) {
	q := newQueue(0, domain.OverflowReject, time.Now)

	for _, c := range []string{"c1", "c2", "c3"} {
		if _, err := q.Append(cmd(c)); err != nil {
			t.Fatalf("append %s: %v", c, err)
		}
	}

	got, err := q.DrainAll()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	want := []string{`"c1"`, `"c2"`, `"c3"`}
	if len(got) != len(want) {
		t.Fatalf("expected %d commands, got %d", len(want), len(got))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	again, err := q.DrainAll()
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if again == nil || len(again) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", again)
	}
}

func TestQueue_OverflowPolicies(t *testing.T) {
	tests := []struct {
		name        string
		policy      domain.OverflowPolicy
		wantErr     error
		wantDropped int
		wantDrained []string
	}{
		{
			name:        "reject keeps existing commands",
			policy:      domain.OverflowReject,
			wantErr:     domain.ErrQueueFull,
			wantDrained: []string{`"a"`, `"b"`},
		},
		{
			name:        "drop oldest makes room",
			policy:      domain.OverflowDropOldest,
			wantDropped: 1,
			wantDrained: []string{`"b"`, `"c"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQueue(2, tt.policy, time.Now)
			_, _ = q.Append(cmd("a"))
			_, _ = q.Append(cmd("b"))

			dropped, err := q.Append(cmd("c"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected err %v, got %v", tt.wantErr, err)
			}
			if dropped != tt.wantDropped {
				t.Fatalf("expected %d dropped, got %d", tt.wantDropped, dropped)
			}

			got, _ := q.DrainAll()
			if len(got) != len(tt.wantDrained) {
				t.Fatalf("expected %v, got %d commands", tt.wantDrained, len(got))
			}
			for i := range got {
				if string(got[i]) != tt.wantDrained[i] {
					t.Fatalf("position %d: expected %s, got %s", i, tt.wantDrained[i], got[i])
				}
			}
		})
	}
}

func TestQueue_ClosedRejectsEverything(t *testing.T) {
	q := newQueue(0, domain.OverflowReject, time.Now)
	_, _ = q.Append(cmd("x"))

	if !q.close() {
		t.Fatal("first close should report true")
	}
	if q.close() {
		t.Fatal("second close should report false")
	}

	if _, err := q.Append(cmd("y")); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("append after close: expected ErrRoomNotFound, got %v", err)
	}
	if _, err := q.DrainAll(); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("drain after close: expected ErrRoomNotFound, got %v", err)
	}
	select {
	case <-q.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestQueue_NotifyOnAppend(t *testing.T) {
	q := newQueue(0, domain.OverflowReject, time.Now)
	_, _ = q.Append(cmd("a"))
	_, _ = q.Append(cmd("b"))

	select {
	case <-q.Notify():
	default:
		t.Fatal("expected a pending notification")
	}
	select {
	case <-q.Notify():
		t.Fatal("notifications must coalesce into one")
	default:
	}
}

// Каждая команда, добавленная параллельно с drain-ами, должна прийти ровно один раз.
func TestQueue_ConcurrentAppendDrainNoLossNoDup(t *testing.T) {
	const (
		senders   = 8
		perSender = 500
	)
	q := newQueue(0, domain.OverflowReject, time.Now)

	var (
		wg   sync.WaitGroup
		seen = make(map[string]int)
		mu   sync.Mutex
		stop = make(chan struct{})
	)

	collect := func(batch []domain.Command) {
		mu.Lock()
		for _, c := range batch {
			seen[string(c)]++
		}
		mu.Unlock()
	}

	var drainers sync.WaitGroup
	for d := 0; d < 3; d++ {
		drainers.Add(1)
		go func() {
			defer drainers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				batch, err := q.DrainAll()
				if err != nil {
					t.Errorf("drain: %v", err)
					return
				}
				collect(batch)
			}
		}()
	}

	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, err := q.Append(domain.Command(fmt.Sprintf(`"%d-%d"`, s, i))); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}(s)
	}

	wg.Wait()
	close(stop)
	drainers.Wait()

	rest, _ := q.DrainAll()
	collect(rest)

	if len(seen) != senders*perSender {
		t.Fatalf("expected %d distinct commands, got %d", senders*perSender, len(seen))
	}
	for c, n := range seen {
		if n != 1 {
			t.Fatalf("command %s delivered %d times", c, n)
		}
	}
}

func TestQueue_PerSenderOrderPreserved(t *testing.T) {
	q := newQueue(0, domain.OverflowReject, time.Now)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_, _ = q.Append(domain.Command(fmt.Sprintf("%d", i)))
		}
	}()

	var all []domain.Command
	for {
		batch, _ := q.DrainAll()
		all = append(all, batch...)
		select {
		case <-done:
			rest, _ := q.DrainAll()
			all = append(all, rest...)
			if len(all) != 1000 {
				t.Fatalf("expected 1000 commands, got %d", len(all))
			}
			for i, c := range all {
				if string(c) != fmt.Sprintf("%d", i) {
					t.Fatalf("position %d: got %s", i, c)
				}
			}
			return
		default:
		}
	}
}
