// Package telemetry provides the observability layer of the resolution
// engine: structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and cache events.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Engine calls are wrapped in operations, which open a span, time the call
// and count its outcome:
//
//	op := tel.StartOperation(ctx, "ResolveSegment", telemetry.AttrSegmentID.String(name))
//	seg, err := p.Segment(name)
//	op.End(err)
//
// # Metrics
//
// All collectors live in a private registry exposed by Metrics.Handler or
// served with Metrics.Serve:
//
//   - daqconf_tree_builds_total, daqconf_tree_build_duration_seconds
//   - daqconf_segments, daqconf_applications
//   - daqconf_disabled_closure_passes, daqconf_disabled_closure_cap_hits_total
//   - daqconf_invalidations_total{reason}
//   - daqconf_operations_total{operation,status}, daqconf_operation_duration_seconds
//   - daqconf_environment_builds_total{status}
//   - daqconf_source_reloads_total{status}
//   - daqconf_errors_by_class_total, daqconf_errors_by_code_total
//
// # Events
//
// The EventPublisher reports tree builds, invalidations, disabled closures,
// source reloads and policy violations to subscribers, synchronously or
// from a buffered goroutine.
package telemetry
