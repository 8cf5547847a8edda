package engine

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func newPolicyEngine(t *testing.T, lang *TestLanguage, opts ...Option) *Engine {
	t.Helper()
	e, err := New(append([]Option{WithLanguages(lang)}, opts...)...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func openSessions(t *testing.T, e *Engine, lang string, n int, opts ...Option) []*Session {
	t.Helper()
	var sessions []*Session
	for range n {
		s, err := e.NewSession(opts...)
		if err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		if err := s.Initialize(context.Background(), lang); err != nil {
			t.Fatalf("initialize failed: %v", err)
		}
		sessions = append(sessions, s)
	}
	return sessions
}

func TestPolicyInstanceCounts(t *testing.T) {
	tests := []struct {
		policy    Policy
		instances int
	}{
		{PolicyExclusive, 2},
		{PolicyShared, 1},
		{PolicyReuse, 2},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			lang := NewTestLanguage("test", tt.policy)
			e := newPolicyEngine(t, lang)
			openSessions(t, e, "test", 2)

			c := lang.Counts()
			if c.Instances != tt.instances {
				t.Errorf("expected %d instances, got %d", tt.instances, c.Instances)
			}
			if c.Contexts != 2 {
				t.Errorf("expected 2 contexts, got %d", c.Contexts)
			}
		})
	}
}

func TestExclusiveDisposeOrder(t *testing.T) {
	ctx := context.Background()
	lang := NewTestLanguage("test", PolicyExclusive)
	e := newPolicyEngine(t, lang)
	sessions := openSessions(t, e, "test", 2)

	var ids []int
	for _, s := range sessions {
		v, err := s.Eval(ctx, NewSource("test", "id", "instance"))
		if err != nil {
			t.Fatal(err)
		}
		id, _ := v.AsInt64()
		ids = append(ids, int(id))
	}
	if ids[0] == ids[1] {
		t.Fatalf("exclusive sessions share instance %d", ids[0])
	}

	if got := lang.Counts().InstancesDisposed; got != 0 {
		t.Fatalf("expected no dispose before close, got %d", got)
	}
	if err := sessions[0].Close(ctx, false); err != nil {
		t.Fatal(err)
	}
	if got := lang.Counts().DisposeOrder; !slices.Equal(got, ids[:1]) {
		t.Errorf("after first close: disposed %v, want %v", got, ids[:1])
	}
	if err := sessions[1].Close(ctx, false); err != nil {
		t.Fatal(err)
	}
	if got := lang.Counts().DisposeOrder; !slices.Equal(got, ids) {
		t.Errorf("after second close: disposed %v, want %v", got, ids)
	}
}

func TestSharedIncompatibleOptions(t *testing.T) {
	lang := NewTestLanguage("test", PolicyShared)
	e := newPolicyEngine(t, lang)

	openSessions(t, e, "test", 1)
	openSessions(t, e, "test", 1, WithOption("test.mode", "other"))

	if got := lang.Counts().Instances; got != 2 {
		t.Errorf("expected 2 instances for incompatible options, got %d", got)
	}
	if got := e.Stats()["test"].Live; got != 2 {
		t.Errorf("expected 2 live instances, got %d", got)
	}
}

func TestSharedDisposeOnce(t *testing.T) {
	lang := NewTestLanguage("test", PolicyShared)
	e := newPolicyEngine(t, lang)
	sessions := openSessions(t, e, "test", 2)

	sessions[0].Close(context.Background(), false)
	if got := lang.Counts().InstancesDisposed; got != 0 {
		t.Fatalf("instance disposed while still attached: %d", got)
	}
	sessions[1].Close(context.Background(), false)

	c := lang.Counts()
	if c.InstancesDisposed != 1 {
		t.Errorf("expected exactly one dispose, got %d", c.InstancesDisposed)
	}
	if c.ContextsDisposed != 2 {
		t.Errorf("expected 2 context disposals, got %d", c.ContextsDisposed)
	}
	if st := e.Stats()["test"]; st.Live != 0 || st.Retained != 0 {
		t.Errorf("expected empty pool, got %+v", st)
	}
}

func TestReusePatchesRetainedInstance(t *testing.T) {
	lang := NewTestLanguage("test", PolicyReuse)
	e := newPolicyEngine(t, lang)

	first := openSessions(t, e, "test", 1)[0]
	first.Close(context.Background(), false)

	st := e.Stats()["test"]
	if st.Retained != 1 || st.Live != 0 {
		t.Fatalf("expected one retained instance, got %+v", st)
	}
	if got := lang.Counts().InstancesDisposed; got != 1 {
		t.Errorf("expected dispose at drop to zero, got %d", got)
	}

	openSessions(t, e, "test", 1)
	c := lang.Counts()
	if c.Instances != 1 {
		t.Errorf("expected the retained instance to be reused, got %d instances", c.Instances)
	}
	if c.Patches != 1 {
		t.Errorf("expected one patch, got %d", c.Patches)
	}
	if got := e.Stats()["test"].Patched; got != 1 {
		t.Errorf("expected patched stat 1, got %d", got)
	}
}

func TestReuseRefusedPatch(t *testing.T) {
	lang := NewTestLanguage("test", PolicyReuse)
	lang.RefusePatch = true
	e := newPolicyEngine(t, lang)

	openSessions(t, e, "test", 1)[0].Close(context.Background(), false)
	openSessions(t, e, "test", 1)

	if got := lang.Counts().Instances; got != 2 {
		t.Errorf("expected a new instance after refused patch, got %d", got)
	}
}

func TestReuseRetentionBounded(t *testing.T) {
	tests := []struct {
		name      string
		refuse    bool
		instances int
	}{
		{"patched", false, 1},
		{"refused", true, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lang := NewTestLanguage("test", PolicyReuse)
			lang.RefusePatch = tt.refuse
			e := newPolicyEngine(t, lang)

			for range 50 {
				openSessions(t, e, "test", 1)[0].Close(context.Background(), false)
			}

			st := e.Stats()["test"]
			if st.Retained > 1 || st.Live != 0 {
				t.Errorf("retained instances should stay bounded, got %+v", st)
			}
			if st.Created != tt.instances {
				t.Errorf("expected %d instances, got %d", tt.instances, st.Created)
			}
		})
	}
}

func TestReuseKeepsOneRetainedPerOptions(t *testing.T) {
	lang := NewTestLanguage("test", PolicyReuse)
	e := newPolicyEngine(t, lang)

	sessions := openSessions(t, e, "test", 3)
	other := openSessions(t, e, "test", 1, WithOption("test.mode", "other"))
	for _, s := range append(sessions, other...) {
		s.Close(context.Background(), false)
	}

	if st := e.Stats()["test"]; st.Retained != 2 {
		t.Errorf("expected one retained instance per option set, got %+v", st)
	}
}

func TestCompatibilityPredicate(t *testing.T) {
	lang := NewTestLanguage("test", PolicyShared)
	lang.Compatible = func(prev, next Options) (bool, error) { return true, nil }
	e := newPolicyEngine(t, lang)

	openSessions(t, e, "test", 1)
	openSessions(t, e, "test", 1, WithOption("test.mode", "other"))
	if got := lang.Counts().Instances; got != 1 {
		t.Errorf("predicate allowed sharing, expected 1 instance, got %d", got)
	}
}

func TestCompatibilityPredicateError(t *testing.T) {
	lang := NewTestLanguage("test", PolicyShared)
	lang.Compatible = func(prev, next Options) (bool, error) { return false, errors.New("boom") }
	e := newPolicyEngine(t, lang)

	openSessions(t, e, "test", 2)
	if got := lang.Counts().Instances; got != 2 {
		t.Errorf("predicate error must be treated as incompatible, got %d instances", got)
	}
}

func TestInstanceCreationFailure(t *testing.T) {
	lang := NewTestLanguage("test", PolicyExclusive)
	e := newPolicyEngine(t, lang)
	s, err := e.NewSession(WithOption("test.mode", "broken"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(context.Background(), false)

	if err := s.Initialize(context.Background(), "test"); err == nil {
		t.Fatal("expected instance creation to fail")
	}
}

func TestParseCache(t *testing.T) {
	ctx := context.Background()
	src := NewSource("test", "answer", "value 42")

	t.Run("shared sessions parse once", func(t *testing.T) {
		lang := NewTestLanguage("test", PolicyShared)
		e := newPolicyEngine(t, lang)
		for _, s := range openSessions(t, e, "test", 2) {
			if _, err := s.Eval(ctx, src); err != nil {
				t.Fatal(err)
			}
		}
		if got := lang.Counts().Parses; got != 1 {
			t.Errorf("expected 1 parse, got %d", got)
		}
		if st := e.Stats()["test"]; st.Parses != 1 || st.CachedSources != 1 {
			t.Errorf("unexpected stats %+v", st)
		}
	})

	t.Run("reused instance keeps cache", func(t *testing.T) {
		lang := NewTestLanguage("test", PolicyReuse)
		e := newPolicyEngine(t, lang)
		first := openSessions(t, e, "test", 1)[0]
		first.Eval(ctx, src)
		first.Close(ctx, false)
		second := openSessions(t, e, "test", 1)[0]
		second.Eval(ctx, src)
		if got := lang.Counts().Parses; got != 1 {
			t.Errorf("expected 1 parse, got %d", got)
		}
	})

	t.Run("no cache source", func(t *testing.T) {
		lang := NewTestLanguage("test", PolicyShared)
		e := newPolicyEngine(t, lang)
		s := openSessions(t, e, "test", 1)[0]
		fresh := src
		fresh.NoCache = true
		s.Eval(ctx, fresh)
		s.Eval(ctx, fresh)
		if got := lang.Counts().Parses; got != 2 {
			t.Errorf("expected 2 parses, got %d", got)
		}
	})

	t.Run("engine cache disabled", func(t *testing.T) {
		lang := NewTestLanguage("test", PolicyShared)
		e := newPolicyEngine(t, lang, WithOption(OptionSourceCache, "false"))
		s := openSessions(t, e, "test", 1)[0]
		s.Eval(ctx, src)
		s.Eval(ctx, src)
		if got := lang.Counts().Parses; got != 2 {
			t.Errorf("expected 2 parses, got %d", got)
		}
	})

	t.Run("incompatible options parse again", func(t *testing.T) {
		lang := NewTestLanguage("test", PolicyShared)
		e := newPolicyEngine(t, lang)
		a := openSessions(t, e, "test", 1)[0]
		b := openSessions(t, e, "test", 1, WithOption("test.mode", "other"))[0]
		a.Eval(ctx, src)
		b.Eval(ctx, src)
		if got := lang.Counts().Parses; got != 2 {
			t.Errorf("expected 2 parses, got %d", got)
		}
	})

	t.Run("different content", func(t *testing.T) {
		lang := NewTestLanguage("test", PolicyExclusive)
		e := newPolicyEngine(t, lang)
		s := openSessions(t, e, "test", 1)[0]
		s.Eval(ctx, src)
		s.Eval(ctx, NewSource("test", "answer", "value 43"))
		s.Eval(ctx, src)
		if got := lang.Counts().Parses; got != 2 {
			t.Errorf("expected 2 parses, got %d", got)
		}
	})
}

func TestSourceKey(t *testing.T) {
	a := NewSource("test", "a", "value 1")
	b := NewSource("test", "b", "value 1")
	if a.Key() == b.Key() {
		t.Error("names must distinguish sources")
	}
	if a.Key() != NewSource("test", "a", "value 1").Key() {
		t.Error("equal sources must have equal keys")
	}
	// The separator keeps field boundaries apart.
	if NewSource("ab", "c", "").Key() == NewSource("a", "bc", "").Key() {
		t.Error("field boundaries must matter")
	}
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{PolicyExclusive, PolicyReuse, PolicyShared} {
		got, err := ParsePolicy(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePolicy(%q) = %v, %v", p, got, err)
		}
	}
	if _, err := ParsePolicy("sometimes"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
