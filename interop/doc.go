// Package interop implements the foreign object protocol: the uniform,
// capability-gated way host code and guest languages read, write, invoke
// and execute each other's values.
//
// A foreign value is either a primitive (nil, bool, string or a Go numeric)
// or an [*Object], an explicit capability table. Dispatch functions such as
// [Read], [Write], [Invoke] and [Execute] consult the table and report
// missing capabilities with errors.ErrUnsupported and missing keys with
// errors.ErrUnknownIdentifier:
//
//	obj := interop.NewMemberObject("point", map[string]any{"x": 1})
//	if err := interop.Write(obj, "y", 2); err != nil {
//		return err
//	}
//	y, err := interop.Read(obj, "y")
//
// Failures raised by the table functions themselves are wrapped as host
// exceptions so they are never mistaken for internal errors.
package interop
