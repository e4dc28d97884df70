// Package observability provides OpenTelemetry tracing and metrics for the
// roundtable runtime, SLO tracking for its core operations, and a queryable
// timeline view over audit chains.
//
// # Tracing and metrics
//
// Initialize the provider at application startup:
//
//	p, err := observability.New(ctx, observability.DefaultConfig())
//	defer p.Shutdown(ctx)
//
// Track an operation end to end:
//
//	ctx, finish := p.TrackOperation(ctx, "roundtable.execute",
//		observability.RoundtableOperation(task.TaskID, string(opts.Mode), len(agents))...)
//	defer func() { finish(err) }()
//
// # SLOs
//
// Register targets and feed observations:
//
//	slo := observability.NewSLOTracker()
//	slo.SetTarget(&observability.SLOTarget{
//		Operation: observability.OpRoundtable, LatencyP99: 30 * time.Second,
//		SuccessRate: 0.99, WindowHours: 24,
//	})
//	slo.Record(observability.SLOObservation{Operation: observability.OpRoundtable, ...})
//
// # Audit timeline
//
// Load a chain into a queryable view:
//
//	tl := observability.NewAuditTimeline()
//	tl.LoadChain(ctx, store, "governance")
//	decisions := tl.Query(observability.TimelineQuery{EventType: "policy_decision"})
package observability
