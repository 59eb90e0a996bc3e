package pool

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records pool transitions as OpenTelemetry counters. A nil *Metrics
// records nothing.
type Metrics struct {
	attrs          metric.MeasurementOption
	reusedAttrs    metric.MeasurementOption
	createdAttrs   metric.MeasurementOption
	retainedAttrs  metric.MeasurementOption
	evictedAttrs   metric.MeasurementOption
	acquires       metric.Int64Counter
	releases       metric.Int64Counter
	creates        metric.Int64Counter
	createFailures metric.Int64Counter
	destroys       metric.Int64Counter
	doubleReleases metric.Int64Counter
}

// NewMetrics creates the counters for the named pool on meter.
func NewMetrics(meter metric.Meter, poolName string) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}
	base := attribute.String("pool", poolName)
	m := &Metrics{
		attrs:         metric.WithAttributes(base),
		reusedAttrs:   metric.WithAttributes(base, attribute.String("source", "idle")),
		createdAttrs:  metric.WithAttributes(base, attribute.String("source", "created")),
		retainedAttrs: metric.WithAttributes(base, attribute.String("outcome", "retained")),
		evictedAttrs:  metric.WithAttributes(base, attribute.String("outcome", "evicted")),
	}

	var err error
	if m.acquires, err = meter.Int64Counter("objpool_acquire_total",
		metric.WithDescription("Instances handed out, by source"),
		metric.WithUnit("{instance}")); err != nil {
		return nil, fmt.Errorf("pool %s: acquire counter: %w", poolName, err)
	}
	if m.releases, err = meter.Int64Counter("objpool_release_total",
		metric.WithDescription("Instances returned, by outcome"),
		metric.WithUnit("{instance}")); err != nil {
		return nil, fmt.Errorf("pool %s: release counter: %w", poolName, err)
	}
	if m.creates, err = meter.Int64Counter("objpool_create_total",
		metric.WithDescription("Instances produced by the create callback"),
		metric.WithUnit("{instance}")); err != nil {
		return nil, fmt.Errorf("pool %s: create counter: %w", poolName, err)
	}
	if m.createFailures, err = meter.Int64Counter("objpool_create_failures_total",
		metric.WithDescription("Create callback failures"),
		metric.WithUnit("{failure}")); err != nil {
		return nil, fmt.Errorf("pool %s: create failure counter: %w", poolName, err)
	}
	if m.destroys, err = meter.Int64Counter("objpool_destroy_total",
		metric.WithDescription("Instances passed to the destroy callback"),
		metric.WithUnit("{instance}")); err != nil {
		return nil, fmt.Errorf("pool %s: destroy counter: %w", poolName, err)
	}
	if m.doubleReleases, err = meter.Int64Counter("objpool_double_release_total",
		metric.WithDescription("Releases rejected because the instance was not checked out"),
		metric.WithUnit("{release}")); err != nil {
		return nil, fmt.Errorf("pool %s: double release counter: %w", poolName, err)
	}
	return m, nil
}

// ObserveStats registers observable gauges that report idle and active counts
// read through stats. stats must be safe to call from the reader goroutine.
// The returned registration stops the reports when unregistered; it is nil
// when meter or stats is nil.
func ObserveStats(meter metric.Meter, poolName string, stats func() Stats) (metric.Registration, error) {
	if meter == nil || stats == nil {
		return nil, nil
	}
	idle, err := meter.Int64ObservableGauge("objpool_instances_idle",
		metric.WithDescription("Instances waiting in the idle store"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, fmt.Errorf("pool %s: idle gauge: %w", poolName, err)
	}
	active, err := meter.Int64ObservableGauge("objpool_instances_active",
		metric.WithDescription("Instances checked out by callers"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, fmt.Errorf("pool %s: active gauge: %w", poolName, err)
	}

	attrs := metric.WithAttributes(attribute.String("pool", poolName))
	reg, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		st := stats()
		observer.ObserveInt64(idle, int64(st.Idle), attrs)
		observer.ObserveInt64(active, int64(st.Active), attrs)
		return nil
	}, idle, active)
	if err != nil {
		return nil, fmt.Errorf("pool %s: register gauge callback: %w", poolName, err)
	}
	return reg, nil
}

func (m *Metrics) observeAcquire(reused bool) {
	if m == nil {
		return
	}
	if reused {
		m.acquires.Add(context.Background(), 1, m.reusedAttrs)
		return
	}
	m.acquires.Add(context.Background(), 1, m.createdAttrs)
}

func (m *Metrics) observeRelease(retained bool) {
	if m == nil {
		return
	}
	if retained {
		m.releases.Add(context.Background(), 1, m.retainedAttrs)
		return
	}
	m.releases.Add(context.Background(), 1, m.evictedAttrs)
}

func (m *Metrics) observeCreate() {
	if m == nil {
		return
	}
	m.creates.Add(context.Background(), 1, m.attrs)
}

func (m *Metrics) observeCreateFailure() {
	if m == nil {
		return
	}
	m.createFailures.Add(context.Background(), 1, m.attrs)
}

func (m *Metrics) observeDestroy() {
	if m == nil {
		return
	}
	m.destroys.Add(context.Background(), 1, m.attrs)
}

func (m *Metrics) observeDoubleRelease() {
	if m == nil {
		return
	}
	m.doubleReleases.Add(context.Background(), 1, m.attrs)
}
