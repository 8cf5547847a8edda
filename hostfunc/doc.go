// Package hostfunc provides host functions that guest code can call.
//
// Host functions are Go functions with a uniform signature ([Func]) kept in a
// [Registry]. A session exposes its registry to every guest language as the
// "host" member of the polyglot bindings; each registered function becomes an
// executable member taking one optional object argument.
//
// # Registry
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("my_func", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "result", nil
//	})
//
// # Built-in Capabilities
//
// HTTP: outbound requests restricted to allowed hosts via [HTTP] and [HTTPConfig].
// Allowed hosts are domain names, IP literals or CIDR prefixes.
//
//	hostfunc.NewHTTP(hostfunc.HTTPConfig{
//	    AllowedHosts: []string{"api.example.com"},
//	}).Register(registry)
//
// Filesystem: mount-based access via [FS], [Mount], and [MountMode]. Mounts are
// backed by go-billy filesystems, either a host directory or a custom one:
//
//	hostfunc.NewFS([]hostfunc.Mount{
//	    {VirtualPath: "/data", HostPath: "./input", Mode: hostfunc.MountReadOnly},
//	    {VirtualPath: "/scratch", FS: memfs.New(), Mode: hostfunc.MountReadWriteCreate},
//	}).Register(registry)
//
// Key-Value Store: in-memory storage via [KV] and [KVConfig].
//
// Processes: host command execution via [Process], with an explicit
// environment and working directory.
//
// Which of these a session installs is decided by its capability descriptors;
// see the engine package.
package hostfunc
