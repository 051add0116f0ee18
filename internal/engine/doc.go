// Package engine runs script modules on behalf of a host. An Engine owns
// one interpreter, the modules compiled into it, the frames of the call in
// progress and the expansion cache of that call. Scripts reach the engine
// through the mw table, which the embedded glue builds on top of a set of
// host callbacks.
//
// An Engine serves a single top-level render and is not safe for
// concurrent use. Calls may nest: a host expansion started by a script can
// invoke further modules on the same Engine.
package engine
