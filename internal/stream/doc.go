// Package stream keeps credentialed network streams alive.
//
// Each stream owns one graph: a transport node fed by a session location and
// a decoder whose outputs are the graph's boundary ports. Once the first
// transport is linked to the decoder, a renewal timer is armed SafetyMargin
// before the session expires. When it fires the session
// is extended and a new transport is built beside the old one; once the new
// transport announces its output, the old one is unlinked and removed and the
// new one takes its place under the graph lock. The decoder is never fed by
// two transports at once.
//
// A failed renewal arms no further timer. The stream keeps playing its
// current session until the remote end cuts it off.
package stream
