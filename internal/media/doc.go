// Package media defines the contract between streamgrid and the media runtime
// that actually moves bytes.
//
// # Why Media Package Exists
//
// The interpreter and the lifecycle engine never talk to a concrete media
// framework. They only need a handful of primitives: construct a node of a
// named kind, set properties, enumerate ports and their templates, link and
// unlink ports, publish boundary ports on a container, remove nodes, change
// state and listen to an error bus. This package names those primitives as Go
// interfaces so the runtime can be swapped (an in-process runtime for tests
// and simulation lives in internal/memruntime).
//
// # Vocabulary
//
//		┌──────────────────────────── Bin ────────────────────────────┐
//		│  ┌──────────┐ stream_0   sink ┌───────────┐ src_0           │ src_0
//		│  │ rtspsrc  │───────────────▶│ decodebin │────────────────▶○──────▶
//		│  └──────────┘                └───────────┘   (ghost pad)   │
//		└─────────────────────────────────────────────────────────────┘
//
//	  - Element: a unit of processing, created from a kind ("rtspsrc").
//	  - Pad: a directional connection point on an element.
//	  - PadTemplate: describes which pads an element kind can have, with a
//	    Presence (always, sometimes, request) and a Direction.
//	  - Bin: an element that contains other elements. Its own pads are ghost
//	    pads forwarding to a pad of one of its children.
//	  - Bus: delivers error messages raised by elements inside a bin.
//
// # Thread-Safety
//
// Implementations must be safe for concurrent use. Callbacks registered with
// Element.OnPadAdded and Bus.Subscribe may be invoked from any goroutine and
// must not be assumed to run on the caller's goroutine.
package media
