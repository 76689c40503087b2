package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/streamgrid/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func environ(kv ...string) Option {
	return WithEnviron(func() []string { return kv })
}

func TestLoadBytes_NestedTopology(t *testing.T) {
	src := `
stream "lobby" {
  source "self_healing" {
    max_restarts  = 5
    restart_delay = "2s"
    source "concat" {
      source "camera" { endpoint = env.CAM_1 }
      source "camera" { endpoint = "enterprises/p/devices/cam-2" }
    }
  }
}

stream "dock" {
  source "camera" { endpoint = "cam-3" }
}
`
	streams, err := NewLoader(environ("CAM_1=enterprises/p/devices/cam-1", "BROKEN")).
		LoadBytes(context.Background(), "streams.hcl", []byte(src))
	require.NoError(t, err)

	want := []topology.Stream{
		{Name: "lobby", Source: &topology.SelfHealing{
			MaxRestarts:  5,
			RestartDelay: 2 * time.Second,
			Inner: &topology.Concat{
				First:  &topology.NetworkedLiveSource{EndpointID: "enterprises/p/devices/cam-1"},
				Second: &topology.NetworkedLiveSource{EndpointID: "enterprises/p/devices/cam-2"},
			},
		}},
		{Name: "dock", Source: &topology.NetworkedLiveSource{EndpointID: "cam-3"}},
	}
	if diff := cmp.Diff(want, streams); diff != "" {
		t.Errorf("unexpected streams (-want +got):\n%s", diff)
	}
}

func TestLoadBytes_SelfHealingDefaults(t *testing.T) {
	streams, err := NewLoader(environ()).LoadBytes(context.Background(), "s.hcl", []byte(`
stream "s" {
  source "self_healing" {
    source "camera" { endpoint = 42 }
  }
}`))
	require.NoError(t, err)
	require.Len(t, streams, 1)

	sh, ok := streams[0].Source.(*topology.SelfHealing)
	require.True(t, ok)
	assert.Zero(t, sh.MaxRestarts)
	assert.Zero(t, sh.RestartDelay)
	assert.Equal(t, "42", sh.Inner.(*topology.NetworkedLiveSource).EndpointID, "numbers convert to strings")
}

func TestLoadBytes_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "syntax",
			src:     `stream "s" {`,
			wantErr: "failed to parse HCL file",
		},
		{
			name: "unknown kind",
			src: `stream "s" {
  source "webcam" {}
}`,
			wantErr: `unknown source kind "webcam"`,
		},
		{
			name: "camera without endpoint",
			src: `stream "s" {
  source "camera" {}
}`,
			wantErr: `missing required argument "endpoint"`,
		},
		{
			name: "concat arity",
			src: `stream "s" {
  source "concat" {
    source "camera" { endpoint = "a" }
  }
}`,
			wantErr: "concat needs exactly 2 sources, got 1",
		},
		{
			name: "self healing arity",
			src: `stream "s" {
  source "self_healing" {}
}`,
			wantErr: "self_healing needs exactly 1 source, got 0",
		},
		{
			name: "bad delay",
			src: `stream "s" {
  source "self_healing" {
    restart_delay = "soon"
    source "camera" { endpoint = "a" }
  }
}`,
			wantErr: "restart_delay",
		},
		{
			name: "fractional restarts",
			src: `stream "s" {
  source "self_healing" {
    max_restarts = 1.5
    source "camera" { endpoint = "a" }
  }
}`,
			wantErr: "max_restarts",
		},
		{
			name: "negative restarts",
			src: `stream "s" {
  source "self_healing" {
    max_restarts = -1
    source "camera" { endpoint = "a" }
  }
}`,
			wantErr: "negative restart policy",
		},
		{
			name: "missing env var",
			src: `stream "s" {
  source "camera" { endpoint = env.NOPE }
}`,
			wantErr: "endpoint",
		},
		{
			name: "empty endpoint",
			src: `stream "s" {
  source "camera" { endpoint = "" }
}`,
			wantErr: "networked source without endpoint",
		},
		{
			name:    "stream without source",
			src:     `stream "s" {}`,
			wantErr: `stream "s" has no source block`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(environ()).LoadBytes(context.Background(), "bad.hcl", []byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_WalksDirectories(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	write("a.hcl", "stream \"a\" {\n  source \"camera\" { endpoint = \"cam-a\" }\n}\n")
	write("nested/b.hcl", "stream \"b\" {\n  source \"camera\" { endpoint = \"cam-b\" }\n}\n")
	write("notes.txt", `not hcl`)

	streams, err := NewLoader(environ()).Load(context.Background(), dir, filepath.Join(dir, "a.hcl"))
	require.NoError(t, err)

	var names []string
	for _, s := range streams {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestLoad_DuplicateStreamNames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one.hcl", "two.hcl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("stream \"same\" {\n  source \"camera\" { endpoint = \"x\" }\n}\n"), 0o644))
	}

	_, err := NewLoader(environ()).Load(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `stream "same" declared in`)
}

func TestLoad_MissingPath(t *testing.T) {
	_, err := NewLoader(environ()).Load(context.Background(), filepath.Join(t.TempDir(), "absent.hcl"))
	require.Error(t, err)
}
