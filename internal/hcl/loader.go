package hcl

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/streamgrid/internal/ctxlog"
	"github.com/specialistvlad/streamgrid/internal/fsutil"
	"github.com/specialistvlad/streamgrid/internal/topology"
	"github.com/zclconf/go-cty/cty"
)

// Loader is the HCL implementation of topology.Loader.
type Loader struct {
	environ func() []string
}

var _ topology.Loader = (*Loader)(nil)

// Option configures a Loader.
type Option func(*Loader)

// WithEnviron replaces os.Environ as the source of the env object visible to
// expressions.
func WithEnviron(environ func() []string) Option {
	return func(l *Loader) {
		l.environ = environ
	}
}

// NewLoader creates a new HCL topology loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{environ: os.Environ}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// fileRoot decodes all top-level blocks of a file.
type fileRoot struct {
	Streams []*streamBlock `hcl:"stream,block"`
	Remain  hcl.Body       `hcl:",remain"`
}

type streamBlock struct {
	Name   string       `hcl:"name,label"`
	Source *sourceBlock `hcl:"source,block"`
}

// sourceBlock is one node of the topology. Attributes are kept as
// expressions and evaluated during translation.
type sourceBlock struct {
	Kind         string         `hcl:"kind,label"`
	Endpoint     hcl.Expression `hcl:"endpoint,optional"`
	MaxRestarts  hcl.Expression `hcl:"max_restarts,optional"`
	RestartDelay hcl.Expression `hcl:"restart_delay,optional"`
	Sources      []*sourceBlock `hcl:"source,block"`
}

// Load parses every .hcl file found under paths and returns the streams they
// declare, in file order. Stream names must be unique across all files.
func (l *Loader) Load(ctx context.Context, paths ...string) ([]topology.Stream, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	hclFiles, err := fsutil.FindFiles(paths, ".hcl")
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	parser := hclparse.NewParser()
	evalCtx := l.evalContext()

	var streams []topology.Stream
	seen := make(map[string]string)
	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		decoded, err := l.decodeFile(ctx, file, hclFile, evalCtx)
		if err != nil {
			return nil, err
		}
		for _, s := range decoded {
			if prev, dup := seen[s.Name]; dup {
				return nil, fmt.Errorf("stream %q declared in %s and %s", s.Name, prev, file)
			}
			seen[s.Name] = file
			streams = append(streams, s)
		}
	}

	logger.Debug("HCL loading complete.", "streams", len(streams))
	return streams, nil
}

// LoadBytes parses a single in-memory file. The filename is only used in
// diagnostics.
func (l *Loader) LoadBytes(ctx context.Context, filename string, src []byte) ([]topology.Stream, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	return l.decodeFile(ctx, filename, hclFile, l.evalContext())
}

func (l *Loader) decodeFile(ctx context.Context, filename string, file *hcl.File, evalCtx *hcl.EvalContext) ([]topology.Stream, error) {
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, evalCtx, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	streams := make([]topology.Stream, 0, len(root.Streams))
	for _, sb := range root.Streams {
		if sb.Source == nil {
			return nil, fmt.Errorf("%s: stream %q has no source block", filename, sb.Name)
		}
		src, err := l.translateSource(ctx, sb.Source, evalCtx, sb.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		if err := topology.Validate(src); err != nil {
			return nil, fmt.Errorf("%s: stream %q: %w", filename, sb.Name, err)
		}
		ctxlog.FromContext(ctx).Debug("Decoded stream.", "stream", sb.Name, "topology", topology.String(src))
		streams = append(streams, topology.Stream{Name: sb.Name, Source: src})
	}
	return streams, nil
}

// evalContext exposes the environment as the "env" object.
func (l *Loader) evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range l.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}
