package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shmux/shmux/internal/logging"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append(opts, WithFatalHandler(func(op string, cause error) {
		t.Fatalf("unexpected fatal on %s: %v", op, cause)
	}))
	return NewStore(logging.NewNop(), opts...)
}

func TestMergeDeltaVisibility(t *testing.T) {
	s := newTestStore(t)

	err := s.MergeDelta(Delta{
		Definitions: []Definition{{Name: "greet", Kind: KindFunction, Body: "echo('hi')"}},
		Env:         map[string]string{"LANG": "C"},
	})
	if err != nil {
		t.Fatalf("MergeDelta failed: %v", err)
	}

	def, ok := s.LookupDefinition("greet")
	if !ok {
		t.Fatal("definition not visible after merge")
	}
	if def.Body != "echo('hi')" {
		t.Errorf("unexpected body %q", def.Body)
	}
	if v, ok := s.Getenv("LANG"); !ok || v != "C" {
		t.Errorf("env not visible after merge: %q %v", v, ok)
	}
	if g := s.Generation(); g != 1 {
		t.Errorf("expected generation 1, got %d", g)
	}
}

func TestMergeAtomicity(t *testing.T) {
	s := newTestStore(t)

	const merges = 200
	done := make(chan struct{})

	// Writer pairs a definition body with an env marker in every merge.
	go func() {
		defer close(done)
		for i := 1; i <= merges; i++ {
			v := fmt.Sprint(i)
			err := s.MergeDelta(Delta{
				Definitions: []Definition{{Name: "fn", Kind: KindFunction, Body: v}},
				Env:         map[string]string{"MARK": v},
			})
			if err != nil {
				t.Errorf("merge %d failed: %v", i, err)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := s.Snapshot()
				mark, ok := snap.Env["MARK"]
				def, dok := snap.Definitions["fn"]
				if ok != dok {
					t.Errorf("half-applied merge observed: env=%v def=%v", ok, dok)
					return
				}
				if ok && def.Body != mark {
					t.Errorf("definition %q paired with env marker %q", def.Body, mark)
					return
				}
			}
		}()
	}

	<-done
	wg.Wait()
}

func TestFailedMergeRollsBack(t *testing.T) {
	s := newTestStore(t)

	if err := s.AddEnvVar("KEEP", "1"); err != nil {
		t.Fatalf("AddEnvVar failed: %v", err)
	}
	gen := s.Generation()

	err := s.MergeDelta(Delta{
		Definitions: []Definition{
			{Name: "ok", Body: "x"},
			{Name: "", Body: "bad"},
		},
	})
	if err == nil {
		t.Fatal("expected merge failure")
	}
	if !errors.Is(err, ErrStateLock) {
		t.Errorf("expected ErrStateLock, got %v", err)
	}

	// The partial effect ("ok") must not be visible.
	if _, ok := s.LookupDefinition("ok"); ok {
		t.Error("partial merge leaked past rollback")
	}
	if v, ok := s.Getenv("KEEP"); !ok || v != "1" {
		t.Error("rollback lost prior state")
	}
	if g := s.Generation(); g != gen {
		t.Errorf("generation moved on failed merge: %d -> %d", gen, g)
	}

	// The lock is not held forever: the next writer proceeds.
	if err := s.AddEnvVar("AFTER", "2"); err != nil {
		t.Fatalf("store unusable after recovery: %v", err)
	}
}

func TestRepeatedRejectionsNeverAbort(t *testing.T) {
	fatals := 0
	s := NewStore(logging.NewNop(), WithFatalHandler(func(op string, cause error) {
		fatals++
	}))

	// Bad input lines arrive as rejected proposals; a user can produce any
	// number of them back to back without taking the daemon down.
	for i := 0; i < 10; i++ {
		err := s.MergeDelta(Delta{Env: map[string]string{"": "x"}})
		if !errors.Is(err, ErrStateLock) {
			t.Fatalf("rejection %d returned %v", i, err)
		}
	}
	if fatals != 0 {
		t.Fatalf("rejections invoked the fatal handler %d times", fatals)
	}

	counts := s.GuardCounts()
	if counts.TotalCorruptions != 0 {
		t.Errorf("rejections counted as corruption: %d", counts.TotalCorruptions)
	}
	if counts.Recoveries != 10 {
		t.Errorf("expected 10 recoveries, got %d", counts.Recoveries)
	}

	// The store keeps working afterwards.
	if err := s.AddEnvVar("AFTER", "1"); err != nil {
		t.Fatalf("store unusable after rejections: %v", err)
	}
}

func TestGuardTripsOnConsecutiveCorruption(t *testing.T) {
	var (
		fatalOp string
		fatals  int
	)
	s := NewStore(logging.NewNop(), WithFatalHandler(func(op string, cause error) {
		fatals++
		fatalOp = op
	}))

	boom := func(r *runtime) error { panic("merge died mid-mutation") }

	if err := s.mutate("merge_delta", boom); !errors.Is(err, ErrStateLock) {
		t.Fatalf("first panic returned %v", err)
	}
	if fatals != 0 {
		t.Fatal("guard tripped on first corruption")
	}
	if err := s.mutate("merge_delta", boom); !errors.Is(err, ErrStateLock) {
		t.Fatalf("second panic returned %v", err)
	}
	if fatals != 1 {
		t.Fatalf("expected fatal after second consecutive corruption, got %d", fatals)
	}
	if fatalOp != "merge_delta" {
		t.Errorf("unexpected fatal op %q", fatalOp)
	}
}

func TestCleanMergeResetsGuardStreak(t *testing.T) {
	fatals := 0
	s := NewStore(logging.NewNop(), WithFatalHandler(func(op string, cause error) {
		fatals++
	}))

	boom := func(r *runtime) error { panic("merge died mid-mutation") }

	if err := s.mutate("merge_delta", boom); err == nil {
		t.Fatal("expected failure")
	}
	if err := s.AddEnvVar("A", "1"); err != nil {
		t.Fatalf("clean merge failed: %v", err)
	}
	// A later single corruption must recover again instead of aborting.
	if err := s.mutate("merge_delta", boom); err == nil {
		t.Fatal("expected failure")
	}
	if fatals != 0 {
		t.Fatalf("guard tripped across a clean merge, fatals=%d", fatals)
	}

	counts := s.GuardCounts()
	if counts.TotalCorruptions != 2 {
		t.Errorf("expected 2 corruptions, got %d", counts.TotalCorruptions)
	}
	if counts.Recoveries != 2 {
		t.Errorf("expected 2 recoveries, got %d", counts.Recoveries)
	}
}

func TestPanicMidMergeRollsBack(t *testing.T) {
	s := newTestStore(t)

	if err := s.AddEnvVar("KEEP", "1"); err != nil {
		t.Fatal(err)
	}
	err := s.mutate("merge_delta", func(r *runtime) error {
		r.env["HALF"] = "applied"
		panic("merge died mid-mutation")
	})
	if !errors.Is(err, ErrStateLock) {
		t.Fatalf("panicking merge returned %v", err)
	}
	if _, ok := s.Getenv("HALF"); ok {
		t.Error("partial mutation survived the panic")
	}
	if v, _ := s.Getenv("KEEP"); v != "1" {
		t.Error("rollback lost prior state")
	}
}

func TestMergeEnvReplacesWholesale(t *testing.T) {
	s := newTestStore(t)

	s.AddEnvVar("OLD", "1")
	if err := s.MergeEnv(map[string]string{"NEW": "2"}); err != nil {
		t.Fatalf("MergeEnv failed: %v", err)
	}

	if _, ok := s.Getenv("OLD"); ok {
		t.Error("bulk replace kept stale entry")
	}
	if v, _ := s.Getenv("NEW"); v != "2" {
		t.Errorf("expected NEW=2, got %q", v)
	}
}

func TestSourceTrackingIDsAreMonotonic(t *testing.T) {
	s := newTestStore(t)

	f0, err := s.AddFile("/etc/shmuxrc")
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	f1, _ := s.AddFile("/home/user/.shmuxrc")
	if f1 != f0+1 {
		t.Errorf("file ids not monotonic: %d then %d", f0, f1)
	}

	s0, err := s.AddSpan(Span{FileID: f0, Start: 0, End: 10})
	if err != nil {
		t.Fatalf("AddSpan failed: %v", err)
	}
	s1, _ := s.AddSpan(Span{FileID: f1, Start: 5, End: 9})
	if s1 != s0+1 {
		t.Errorf("span ids not monotonic: %d then %d", s0, s1)
	}

	if _, err := s.AddSpan(Span{FileID: 99, Start: 0, End: 1}); err == nil {
		t.Error("span with unknown file accepted")
	}
}

func TestSignalDispositions(t *testing.T) {
	s := newTestStore(t)

	if d := s.SignalDisposition("SIGINT"); d != DispositionDefault {
		t.Errorf("fresh store disposition %q", d)
	}
	s.SetSignals(map[string]Disposition{"SIGINT": DispositionIgnore})
	if d := s.SignalDisposition("SIGINT"); d != DispositionIgnore {
		t.Errorf("expected ignore, got %q", d)
	}
	s.ResetSignals()
	if d := s.SignalDisposition("SIGINT"); d != DispositionDefault {
		t.Errorf("reset kept %q", d)
	}
}

func TestSetStartupTime(t *testing.T) {
	s := newTestStore(t)

	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SetStartupTime(want); err != nil {
		t.Fatalf("SetStartupTime failed: %v", err)
	}
	if got := s.StartupTime(); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if err := s.SetStartupTime(time.Time{}); err == nil {
		t.Error("zero startup time accepted")
	}
}

func TestApplyConfigFile(t *testing.T) {
	s := newTestStore(t)

	path := filepath.Join(t.TempDir(), "shmuxrc.yaml")
	data := []byte("prompt: \"work> \"\nhistory_size: 50\noptions:\n  color: \"always\"\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ApplyConfigFile(s, path); err != nil {
		t.Fatalf("ApplyConfigFile failed: %v", err)
	}

	cfg := s.Config()
	if cfg.Prompt != "work> " {
		t.Errorf("prompt %q", cfg.Prompt)
	}
	if cfg.HistorySize != 50 {
		t.Errorf("history size %d", cfg.HistorySize)
	}
	if cfg.Options["color"] != "always" {
		t.Errorf("options %v", cfg.Options)
	}
	if s.ConfigPath() != path {
		t.Errorf("config path %q", s.ConfigPath())
	}

	if err := ApplyConfigFile(s, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing config file accepted")
	}
}
