package hcl

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/streamgrid/internal/ctxlog"
	"github.com/specialistvlad/streamgrid/internal/topology"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Block kinds accepted in a source label.
const (
	kindCamera      = "camera"
	kindConcat      = "concat"
	kindSelfHealing = "self_healing"
)

// translateSource converts a source block and its nested blocks into the
// topology tree. path locates the block for error messages.
func (l *Loader) translateSource(ctx context.Context, sb *sourceBlock, evalCtx *hcl.EvalContext, path string) (topology.Source, error) {
	path = path + "/" + sb.Kind

	switch sb.Kind {
	case kindCamera:
		if len(sb.Sources) != 0 {
			return nil, fmt.Errorf("%s: camera source cannot contain sources", path)
		}
		var endpoint string
		set, err := decodeAttr(ctx, sb.Endpoint, evalCtx, cty.String, &endpoint)
		if err != nil {
			return nil, fmt.Errorf("%s: endpoint: %w", path, err)
		}
		if !set {
			return nil, fmt.Errorf("%s: missing required argument \"endpoint\"", path)
		}
		return &topology.NetworkedLiveSource{EndpointID: endpoint}, nil

	case kindConcat:
		if len(sb.Sources) != 2 {
			return nil, fmt.Errorf("%s: concat needs exactly 2 sources, got %d", path, len(sb.Sources))
		}
		first, err := l.translateSource(ctx, sb.Sources[0], evalCtx, path)
		if err != nil {
			return nil, err
		}
		second, err := l.translateSource(ctx, sb.Sources[1], evalCtx, path)
		if err != nil {
			return nil, err
		}
		return &topology.Concat{First: first, Second: second}, nil

	case kindSelfHealing:
		if len(sb.Sources) != 1 {
			return nil, fmt.Errorf("%s: self_healing needs exactly 1 source, got %d", path, len(sb.Sources))
		}
		inner, err := l.translateSource(ctx, sb.Sources[0], evalCtx, path)
		if err != nil {
			return nil, err
		}
		src := &topology.SelfHealing{Inner: inner}
		if _, err := decodeAttr(ctx, sb.MaxRestarts, evalCtx, cty.Number, &src.MaxRestarts); err != nil {
			return nil, fmt.Errorf("%s: max_restarts: %w", path, err)
		}
		var delay string
		set, err := decodeAttr(ctx, sb.RestartDelay, evalCtx, cty.String, &delay)
		if err != nil {
			return nil, fmt.Errorf("%s: restart_delay: %w", path, err)
		}
		if set {
			if src.RestartDelay, err = time.ParseDuration(delay); err != nil {
				return nil, fmt.Errorf("%s: restart_delay: %w", path, err)
			}
		}
		return src, nil

	default:
		return nil, fmt.Errorf("%s: unknown source kind %q (want %s, %s or %s)", path, sb.Kind, kindCamera, kindConcat, kindSelfHealing)
	}
}

// decodeAttr evaluates an optional attribute, converts it to want and stores
// it in target. It reports false if the attribute was not set.
func decodeAttr(ctx context.Context, expr hcl.Expression, evalCtx *hcl.EvalContext, want cty.Type, target any) (bool, error) {
	if expr == nil {
		return false, nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return false, diags
	}
	if val.IsNull() {
		return false, nil
	}
	if !val.IsWhollyKnown() {
		return false, fmt.Errorf("value is not known")
	}

	converted, err := convert.Convert(val, want)
	if err != nil {
		return false, fmt.Errorf("cannot convert %s to %s: %w", val.Type().FriendlyName(), want.FriendlyName(), err)
	}
	if !val.Type().Equals(converted.Type()) {
		ctxlog.FromContext(ctx).Debug("Implicitly converted value type.",
			"from", val.Type().FriendlyName(),
			"to", converted.Type().FriendlyName(),
		)
	}
	if err := gocty.FromCtyValue(converted, target); err != nil {
		return false, err
	}
	return true, nil
}
