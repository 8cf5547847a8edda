// Package glot embeds guest languages in Go programs and lets them exchange
// values with the host and with each other.
//
// # Overview
//
// Code runs in sessions with zero default capabilities. Host object access,
// I/O, process creation and environment variables must be granted through
// access descriptors. Languages share a polyglot bindings object per
// session, and values cross language boundaries through the interop
// message protocol.
//
// # Basic Usage
//
//	e, _ := engine.New(engine.WithLanguages(sexp.New(), wasm.New()))
//	defer e.Close()
//
//	s, _ := e.NewSession()
//	defer s.Close(ctx, false)
//
//	v, _ := s.Eval(ctx, engine.NewSource("sexp", "main", `(+ 1 2)`))
//	n, _ := v.AsInt64() // 3
//
// # Enabling Capabilities
//
//	// HTTP access
//	s, _ := e.NewSession(
//	    engine.WithExtendIO(access.IONone, func(b *access.IOAccessBuilder) { b.AllowHostSocketAccess(true) }),
//	    engine.WithAllowedHosts("api.example.com"))
//
//	// Filesystem access
//	s, _ := e.NewSession(
//	    engine.WithAllowIO(true),
//	    engine.WithMount(hostfunc.Mount{VirtualPath: "/data", HostPath: "./input", Mode: hostfunc.MountReadOnly}))
//
//	// Key-value store
//	s, _ := e.NewSession(engine.WithKV(hostfunc.DefaultKVConfig()))
//
// See the [engine], [interop], [access], [hostfunc], [language/sexp] and
// [language/wasm] packages for detailed API documentation.
package glot
