package memruntime

import "github.com/specialistvlad/streamgrid/internal/media"

// KindSpec describes an element kind the runtime can construct.
type KindSpec struct {
	Templates []media.PadTemplate
	// Properties lists the accepted property keys. A nil slice accepts any key.
	Properties []string
	// AnnounceOnLink makes an auto-announcing runtime add the first
	// sometimes output pad when an input pad is linked for the first time.
	AnnounceOnLink bool
}

const (
	capsRTP = "application/x-rtp"
	capsRaw = "video/x-raw"
)

// DefaultKinds returns the element kinds every runtime knows about.
func DefaultKinds() map[string]KindSpec {
	return map[string]KindSpec{
		"rtspsrc": {
			Templates: []media.PadTemplate{
				{Name: "stream_%u", Direction: media.DirectionSrc, Presence: media.PresenceSometimes, Caps: capsRTP},
			},
			Properties: []string{"location", "latency", "protocols"},
		},
		"decodebin": {
			Templates: []media.PadTemplate{
				{Name: "sink", Direction: media.DirectionSink, Presence: media.PresenceAlways, Caps: media.AnyCaps},
				{Name: "src_%u", Direction: media.DirectionSrc, Presence: media.PresenceSometimes, Caps: capsRaw},
			},
			Properties:     []string{"caps", "expose-all-streams"},
			AnnounceOnLink: true,
		},
		"concat": {
			Templates: []media.PadTemplate{
				{Name: "sink_%u", Direction: media.DirectionSink, Presence: media.PresenceRequest, Caps: media.AnyCaps},
				{Name: "src", Direction: media.DirectionSrc, Presence: media.PresenceAlways, Caps: media.AnyCaps},
			},
			Properties: []string{"adjust-base"},
		},
		"queue": {
			Templates: []media.PadTemplate{
				{Name: "sink", Direction: media.DirectionSink, Presence: media.PresenceAlways, Caps: media.AnyCaps},
				{Name: "src", Direction: media.DirectionSrc, Presence: media.PresenceAlways, Caps: media.AnyCaps},
			},
		},
		"tee": {
			Templates: []media.PadTemplate{
				{Name: "sink", Direction: media.DirectionSink, Presence: media.PresenceAlways, Caps: media.AnyCaps},
				{Name: "src_%u", Direction: media.DirectionSrc, Presence: media.PresenceRequest, Caps: media.AnyCaps},
			},
		},
		"rtph264depay": {
			Templates: []media.PadTemplate{
				{Name: "sink", Direction: media.DirectionSink, Presence: media.PresenceAlways, Caps: capsRTP},
				{Name: "src", Direction: media.DirectionSrc, Presence: media.PresenceAlways, Caps: "video/x-h264"},
			},
		},
		"fakesink": {
			Templates: []media.PadTemplate{
				{Name: "sink", Direction: media.DirectionSink, Presence: media.PresenceAlways, Caps: media.AnyCaps},
			},
		},
	}
}
