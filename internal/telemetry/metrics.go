package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricOpportunitiesFoundTotal = "fundingkeeper_opportunities_found_total"
	MetricPlansAcceptedTotal      = "fundingkeeper_plans_accepted_total"
	MetricPlansRejectedTotal      = "fundingkeeper_plans_rejected_total"
	MetricPositionsByStatus       = "fundingkeeper_positions_by_status"
	MetricHealthFactor            = "fundingkeeper_health_factor"
	MetricRateLimitDeferredTotal  = "fundingkeeper_rate_limit_deferred_total"
	MetricSingleLegIncidentsTotal = "fundingkeeper_single_leg_incidents_total"
	MetricNetAPYRealized          = "fundingkeeper_net_apy_realized"
	MetricScanDurationMs          = "fundingkeeper_scan_duration_ms"
	MetricReconcileDivergedTotal  = "fundingkeeper_reconcile_diverged_total"
)

// Holder owns the process's metric instruments. Gauges that need
// per-status/per-position state (positions by status, health factor,
// realized net APY) are
// implemented as observable gauges backed by a guarded map, matching the
// corpus's MetricsHolder pattern.
type Holder struct {
	OpportunitiesFoundTotal metric.Int64Counter
	PlansAcceptedTotal      metric.Int64Counter
	PlansRejectedTotal      metric.Int64Counter
	RateLimitDeferredTotal  metric.Int64Counter
	SingleLegIncidentsTotal metric.Int64Counter
	ReconcileDivergedTotal  metric.Int64Counter
	ScanDurationMs          metric.Float64Histogram

	PositionsByStatus metric.Int64ObservableGauge
	HealthFactor      metric.Float64ObservableGauge
	NetAPYRealized    metric.Float64ObservableGauge

	mu                sync.RWMutex
	positionsByStatus map[string]int64 // status -> count
	healthFactorMap   map[string]float64
	netAPYMap         map[string]float64
}

var (
	global  *Holder
	once    sync.Once
	initErr error
)

// GetGlobalMetrics returns the process-wide metrics singleton.
func GetGlobalMetrics() *Holder {
	once.Do(func() {
		global = &Holder{
			positionsByStatus: make(map[string]int64),
			healthFactorMap:   make(map[string]float64),
			netAPYMap:         make(map[string]float64),
		}
	})
	return global
}

// Init registers instruments against meter. It keeps no record of earlier
// calls: each call registers the full instrument set again and replaces
// the Holder's instrument fields.
func (m *Holder) Init(meter metric.Meter) error {
	var err error

	m.OpportunitiesFoundTotal, err = meter.Int64Counter(MetricOpportunitiesFoundTotal,
		metric.WithDescription("Arbitrage opportunities surfaced by the aggregator"))
	if err != nil {
		return err
	}
	m.PlansAcceptedTotal, err = meter.Int64Counter(MetricPlansAcceptedTotal,
		metric.WithDescription("Execution plans accepted by the planner"))
	if err != nil {
		return err
	}
	m.PlansRejectedTotal, err = meter.Int64Counter(MetricPlansRejectedTotal,
		metric.WithDescription("Execution plans rejected by the planner"))
	if err != nil {
		return err
	}
	m.RateLimitDeferredTotal, err = meter.Int64Counter(MetricRateLimitDeferredTotal,
		metric.WithDescription("Venue calls deferred due to local rate-limit back-pressure"))
	if err != nil {
		return err
	}
	m.SingleLegIncidentsTotal, err = meter.Int64Counter(MetricSingleLegIncidentsTotal,
		metric.WithDescription("Single-leg hanging incidents recorded by the execution engine"))
	if err != nil {
		return err
	}
	m.ReconcileDivergedTotal, err = meter.Int64Counter(MetricReconcileDivergedTotal,
		metric.WithDescription("Positions found diverged from venue state during reconciliation"))
	if err != nil {
		return err
	}
	m.ScanDurationMs, err = meter.Float64Histogram(MetricScanDurationMs,
		metric.WithDescription("Duration of a full funding-scan loop"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.PositionsByStatus, err = meter.Int64ObservableGauge(MetricPositionsByStatus,
		metric.WithDescription("Current open positions by lifecycle status"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for status, count := range m.positionsByStatus {
				obs.Observe(count, metric.WithAttributes(attribute.String("status", status)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.HealthFactor, err = meter.Float64ObservableGauge(MetricHealthFactor,
		metric.WithDescription("Leveraged position health factor"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for positionID, hf := range m.healthFactorMap {
				obs.Observe(hf, metric.WithAttributes(attribute.String("position_id", positionID)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.NetAPYRealized, err = meter.Float64ObservableGauge(MetricNetAPYRealized,
		metric.WithDescription("Realized net APY by position"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for positionID, apy := range m.netAPYMap {
				obs.Observe(apy, metric.WithAttributes(attribute.String("position_id", positionID)))
			}
			return nil
		}))
	return err
}

// SetPositionsByStatus replaces the count for a single status.
func (m *Holder) SetPositionsByStatus(status string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionsByStatus[status] = count
}

// SetHealthFactor records the current HF for a leveraged position.
func (m *Holder) SetHealthFactor(positionID string, hf float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthFactorMap[positionID] = hf
}

// ClearPosition drops a closed position's gauge series.
func (m *Holder) ClearPosition(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.healthFactorMap, positionID)
	delete(m.netAPYMap, positionID)
}

// SetNetAPY records the realized net APY for a position.
func (m *Holder) SetNetAPY(positionID string, apy float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.netAPYMap[positionID] = apy
}
