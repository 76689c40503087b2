// Package memruntime is an in-process implementation of the media contract.
//
// It does not move any media. It models exactly the parts of a media
// framework the graph builder relies on: element kinds with pad templates,
// always/sometimes/request presence, caps-checked linking, bins with ghost
// pads, and an error bus. Sometimes pads never appear on their own unless the
// runtime is created with WithAutoAnnounce; tests call Announce to simulate a
// transport finishing its handshake. With auto-announce, kinds flagged
// AnnounceOnLink also expose their first output once their input is linked.
package memruntime
