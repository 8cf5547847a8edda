// Package access defines the immutable capability descriptors that sandbox
// a session.
//
// # Descriptors
//
// [HostAccess] controls what guest code may do with host objects: which
// members are visible, whether slices and maps are exposed, and whether
// guest values passed into host methods are scoped to the call.
//
// [IOAccess] controls file and socket access. File access is granted either
// through the host file flag or through a custom [billy.Filesystem], and the
// two cannot be combined.
//
// [EnvironmentAccess] controls the environment variables a session sees.
//
// # Building
//
// Descriptors are built from a base template plus overrides:
//
//	scoped, err := access.HostAccessExplicit.Extend(func(b *access.HostAccessBuilder) {
//	    b.AllowMembers("Name", "Greet").MethodScoping(true)
//	})
//
// Contradictory overrides make Build fail with a configuration error naming
// both settings. Descriptors compare structurally with Equal.
package access
