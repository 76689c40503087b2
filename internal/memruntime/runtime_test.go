package memruntime

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/streamgrid/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func padNames(pads []media.Pad) []string {
	out := make([]string, 0, len(pads))
	for _, p := range pads {
		out = append(out, p.Name())
	}
	return out
}

func TestMake_CreatesAlwaysPads(t *testing.T) {
	rt := New()

	el, err := rt.Make("queue", "q")
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"sink", "src"}, padNames(el.Pads())); diff != "" {
		t.Errorf("unexpected pads (-want +got):\n%s", diff)
	}
}

func TestMake_UnknownKind(t *testing.T) {
	rt := New()

	_, err := rt.Make("nosuchelement", "x")
	require.ErrorIs(t, err, media.ErrUnknownKind)
}

func TestMake_GeneratesNames(t *testing.T) {
	rt := New()

	a, err := rt.Make("queue", "")
	require.NoError(t, err)
	b, err := rt.Make("queue", "")
	require.NoError(t, err)

	assert.Equal(t, "queue0", a.Name())
	assert.Equal(t, "queue1", b.Name())
}

func TestSetProperty_RejectsUnknownKey(t *testing.T) {
	rt := New()
	el, err := rt.Make("rtspsrc", "src")
	require.NoError(t, err)

	require.NoError(t, el.SetProperty("location", "rtsp://cam/stream?auth=t"))
	require.Error(t, el.SetProperty("colour", "blue"))

	v, ok := el.Property("location")
	require.True(t, ok)
	assert.Equal(t, "rtsp://cam/stream?auth=t", v)
}

func TestAnnounce_FiresListeners(t *testing.T) {
	rt := New()
	el, err := rt.Make("rtspsrc", "src")
	require.NoError(t, err)

	var seen []string
	el.OnPadAdded(func(p media.Pad) { seen = append(seen, p.Name()) })

	_, err = rt.Announce(el, "stream_%u")
	require.NoError(t, err)
	_, err = rt.Announce(el, "stream_%u")
	require.NoError(t, err)

	assert.Equal(t, []string{"stream_0", "stream_1"}, seen)
	assert.Len(t, el.SrcPads(), 2)
}

func TestAnnounce_RejectsNonSometimesTemplate(t *testing.T) {
	rt := New()
	el, err := rt.Make("queue", "q")
	require.NoError(t, err)

	_, err = rt.Announce(el, "src")
	require.Error(t, err)
}

func TestLink_CapsAndDirection(t *testing.T) {
	rt := New()
	src, err := rt.Make("rtspsrc", "src")
	require.NoError(t, err)
	dec, err := rt.Make("decodebin", "dec")
	require.NoError(t, err)
	depay, err := rt.Make("rtph264depay", "depay")
	require.NoError(t, err)

	out, err := rt.Announce(src, "stream_%u")
	require.NoError(t, err)

	t.Run("sink to sink is refused", func(t *testing.T) {
		err := dec.StaticPad("sink").Link(depay.StaticPad("sink"))
		require.ErrorIs(t, err, media.ErrLinkRefused)
	})

	t.Run("incompatible caps are refused", func(t *testing.T) {
		raw, err := rt.Announce(dec, "src_%u")
		require.NoError(t, err)
		err = raw.Link(depay.StaticPad("sink"))
		require.ErrorIs(t, err, media.ErrLinkRefused)
	})

	t.Run("compatible pads link once", func(t *testing.T) {
		require.NoError(t, out.Link(dec.StaticPad("sink")))
		assert.Same(t, dec.StaticPad("sink"), out.Peer())

		err := out.Link(depay.StaticPad("sink"))
		require.ErrorIs(t, err, media.ErrLinkRefused)
	})

	t.Run("unlink clears both sides", func(t *testing.T) {
		require.NoError(t, out.Unlink(dec.StaticPad("sink")))
		assert.Nil(t, out.Peer())
		assert.Nil(t, dec.StaticPad("sink").Peer())
		require.ErrorIs(t, out.Unlink(dec.StaticPad("sink")), media.ErrNotLinked)
	})
}

func TestRequestPad(t *testing.T) {
	rt := New()
	c, err := rt.Make("concat", "c")
	require.NoError(t, err)

	var tmpl media.PadTemplate
	for _, pt := range c.PadTemplates() {
		if pt.Presence == media.PresenceRequest {
			tmpl = pt
		}
	}
	p0, err := c.RequestPad(tmpl)
	require.NoError(t, err)
	p1, err := c.RequestPad(tmpl)
	require.NoError(t, err)

	assert.Equal(t, "sink_0", p0.Name())
	assert.Equal(t, "sink_1", p1.Name())

	_, err = c.RequestPad(media.PadTemplate{Name: "src"})
	require.Error(t, err)
}

func TestBin_AddRemoveAndGhostPads(t *testing.T) {
	rt := New()
	b := rt.NewBin("graph")
	q, err := rt.Make("queue", "q")
	require.NoError(t, err)
	require.NoError(t, b.Add(q))

	other, err := rt.Make("queue", "q")
	require.NoError(t, err)
	require.Error(t, b.Add(other), "duplicate names must be rejected")
	require.Error(t, b.Add(b), "a bin cannot contain itself")

	var added []string
	b.OnPadAdded(func(p media.Pad) { added = append(added, p.Name()) })

	g, err := b.AddGhostPad("", q.StaticPad("src"))
	require.NoError(t, err)
	assert.Equal(t, "src_0", g.Name())
	assert.Same(t, q.StaticPad("src"), g.Target())
	assert.Equal(t, []string{"src_0"}, added)
	assert.Same(t, b, g.Parent())

	_, err = b.AddGhostPad("src_0", q.StaticPad("src"))
	require.Error(t, err)

	require.NoError(t, b.Remove(q))
	assert.Empty(t, b.Elements())
	assert.Nil(t, q.Parent())
	assert.Nil(t, g.Target(), "ghost pads into a removed element lose their target")
}

func TestBin_RemoveUnlinksPeers(t *testing.T) {
	rt := New()
	b := rt.NewBin("graph")
	src, err := rt.Make("rtspsrc", "src")
	require.NoError(t, err)
	dec, err := rt.Make("decodebin", "dec")
	require.NoError(t, err)
	require.NoError(t, b.Add(src))
	require.NoError(t, b.Add(dec))

	out, err := rt.Announce(src, "stream_%u")
	require.NoError(t, err)
	require.NoError(t, out.Link(dec.StaticPad("sink")))

	require.NoError(t, b.Remove(src))
	assert.Nil(t, dec.StaticPad("sink").Peer())
	require.Error(t, b.Remove(src))
}

func TestNestedBin_GhostPadLinks(t *testing.T) {
	rt := New()
	parent := rt.NewBin("parent")
	child := rt.NewBin("child")
	q, err := rt.Make("queue", "q")
	require.NoError(t, err)
	require.NoError(t, child.Add(q))
	require.NoError(t, parent.Add(child))

	c, err := rt.Make("concat", "c")
	require.NoError(t, err)
	require.NoError(t, parent.Add(c))

	g, err := child.AddGhostPad("", q.StaticPad("src"))
	require.NoError(t, err)

	var tmpl media.PadTemplate
	for _, pt := range c.PadTemplates() {
		if pt.Presence == media.PresenceRequest {
			tmpl = pt
		}
	}
	sink, err := c.RequestPad(tmpl)
	require.NoError(t, err)
	require.NoError(t, g.Link(sink))

	assert.Same(t, child, sink.Peer().Parent())
}

func TestBus_RaiseError(t *testing.T) {
	rt := New()
	b := rt.NewBin("graph")
	q, err := rt.Make("queue", "q")
	require.NoError(t, err)

	require.Error(t, rt.RaiseError(q, "orphan"))
	require.NoError(t, b.Add(q))

	var got []media.Message
	b.Bus().Subscribe(func(m media.Message) { got = append(got, m) })
	require.NoError(t, rt.RaiseError(q, "boom"))

	assert.Equal(t, []media.Message{{Source: "q", Text: "boom"}}, got)
}

func TestPadTemplate_Matches(t *testing.T) {
	tests := []struct {
		template string
		pad      string
		want     bool
	}{
		{"sink", "sink", true},
		{"sink", "sink_0", false},
		{"src_%u", "src_0", true},
		{"src_%u", "src_12", true},
		{"src_%u", "src_", false},
		{"src_%u", "src_x", false},
		{"stream_%u", "src_0", false},
	}
	for _, tt := range tests {
		t.Run(tt.template+"/"+tt.pad, func(t *testing.T) {
			assert.Equal(t, tt.want, media.PadTemplate{Name: tt.template}.Matches(tt.pad))
		})
	}
}

func TestAutoAnnounce_DecoderExposesOutputOnFirstLink(t *testing.T) {
	rt := New(WithAutoAnnounce(time.Hour))

	src, err := rt.Make("queue", "q")
	require.NoError(t, err)
	dec, err := rt.Make("decodebin", "dec")
	require.NoError(t, err)
	require.Empty(t, dec.SrcPads())

	require.NoError(t, src.StaticPad("src").Link(dec.StaticPad("sink")))
	assert.Equal(t, []string{"src_0"}, padNames(dec.SrcPads()))

	require.NoError(t, src.StaticPad("src").Unlink(dec.StaticPad("sink")))
	require.NoError(t, src.StaticPad("src").Link(dec.StaticPad("sink")))
	assert.Len(t, dec.SrcPads(), 1, "relinking must not expose another output")
}
