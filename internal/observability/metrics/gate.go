// Package metrics names and tags the gate's StatsD metrics in one place.
package metrics

import (
	"time"

	obserrors "github.com/edumanage/edugate/internal/observability/errors"
	"github.com/edumanage/edugate/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// RoleFetch captures one role lookup.
type RoleFetch struct {
	Duration time.Duration
	Err      error
}

// EmitRoleFetch records the lookup latency and, on failure, its error class.
func EmitRoleFetch(sink statsd.Sink, in RoleFetch) {
	if sink == nil {
		return
	}
	tags := map[string]string{"result": ResultSuccess}
	if in.Err != nil {
		tags["result"] = ResultError
		tags["error_class"] = obserrors.Classify(in.Err)
		sink.Count("gate.role_fetch.errors", 1, CloneTags(tags))
	}
	sink.Timing("gate.role_fetch", in.Duration, tags)
}

// EmitOutcome counts one guard evaluation by outcome kind.
func EmitOutcome(sink statsd.Sink, kind string) {
	if sink == nil {
		return
	}
	sink.Count("gate.outcome", 1, map[string]string{"kind": kind})
}

// EmitSessions reports live and evicted session stores after a sweep.
func EmitSessions(sink statsd.Sink, live, evicted int) {
	if sink == nil {
		return
	}
	sink.Gauge("session.active", float64(live), nil)
	if evicted > 0 {
		sink.Count("session.evicted", int64(evicted), nil)
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
