// Package engine hosts guest languages and runs their code in sessions.
//
// # Engines and Sessions
//
// An [Engine] holds the installed languages and a pool of language
// instances per language. A [Session] is one sandboxed execution context
// with its own capability descriptors, polyglot bindings and host
// functions. Sessions created with the package-level [NewSession] own a
// bound engine that closes with them; sessions created from an explicit
// engine share its pools.
//
//	e, _ := engine.New(engine.WithLanguages(sexp.New(), wasm.New()))
//	defer e.Close()
//
//	s, _ := e.NewSession(engine.WithAllowIO(true), engine.WithAllowedHosts("api.example.com"))
//	defer s.Close(ctx, false)
//
//	v, err := s.Eval(ctx, engine.NewSource("sexp", "main", `(+ 1 2)`))
//
// # Instance Policies
//
// Each language declares a [Policy]. EXCLUSIVE languages get one instance
// per session. SHARED languages reuse a live instance when the session's
// options are compatible. REUSE languages keep an instance after its last
// session closes and patch it for the next compatible one. Parsed sources
// are cached per instance, keyed by the source content hash.
//
// # Threads
//
// Go has no goroutine identity, so callers that need the enter/leave
// discipline create a [Thread] and carry it in the context with
// [WithThread]. Operations called with a context that carries no thread
// use a fresh anonymous one.
//
// Operations enter the session implicitly when the thread is not already
// inside it. That entry has no token the caller can see, so a host
// callback can only leave and later re-enter a session its thread entered
// explicitly with [Session.Enter].
//
// # Values
//
// Results are [Value] handles. Handles are valid until released or until
// the session closes. Host methods that receive handles under method
// scoping get handles that are released when the method returns unless
// pinned.
package engine
