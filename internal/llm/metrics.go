package llm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/normanking/relay/internal/logging"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COST RATES (per million tokens)
// ═══════════════════════════════════════════════════════════════════════════════

// ProviderCostRates defines cost per million tokens for a provider.
type ProviderCostRates struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// CostRates maps providers to their token costs in USD per million tokens.
// Local inference is free; the OpenRouter figure is a blended average,
// since actual pricing varies by model.
var CostRates = map[ProviderID]ProviderCostRates{
	ProviderLocal:      {0.0, 0.0},
	ProviderOpenRouter: {1.00, 2.00},
}

// GetCostRate returns the cost rate for a provider.
func GetCostRate(provider ProviderID) ProviderCostRates {
	if rate, ok := CostRates[provider]; ok {
		return rate
	}
	return ProviderCostRates{1.0, 2.0}
}

// IsLocalProvider reports whether the provider runs on this machine.
func IsLocalProvider(provider ProviderID) bool {
	return provider == ProviderLocal
}

// MetricsProvider wraps a Provider with timing and usage collection.
// Only Chat is instrumented; the other methods delegate.
type MetricsProvider struct {
	provider Provider
	id       ProviderID
	log      *logging.Logger

	// Atomic counters
	totalCalls        int64
	totalErrors       int64
	totalTokens       int64
	totalInputTokens  int64
	totalOutputTokens int64

	// Protected by mutex
	mu               sync.RWMutex
	totalLatency     time.Duration
	minLatency       time.Duration
	maxLatency       time.Duration
	latencyBuckets   []int64 // Histogram: <100ms, <500ms, <1s, <2s, <5s, 5s+
	modelStats       map[string]*ModelMetrics
	estimatedCostUSD float64
}

// ModelMetrics tracks per-model performance.
type ModelMetrics struct {
	Calls         int64
	TotalLatency  time.Duration
	Errors        int64
	InputTokens   int64
	OutputTokens  int64
	EstimatedCost float64
}

// NewMetricsProvider wraps a provider with metrics collection.
func NewMetricsProvider(provider Provider) *MetricsProvider {
	return &MetricsProvider{
		provider:       provider,
		id:             provider.Name(),
		log:            logging.Global(),
		minLatency:     time.Hour, // replaced on first call
		latencyBuckets: make([]int64, 6),
		modelStats:     make(map[string]*ModelMetrics),
	}
}

// Chat implements Provider with metrics.
func (m *MetricsProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	m.log.Debug("[LLM-Metrics] Starting %s/%s call", m.id, req.Model)

	resp, err := m.provider.Chat(ctx, req)

	latency := time.Since(start)

	atomic.AddInt64(&m.totalCalls, 1)
	if err != nil {
		atomic.AddInt64(&m.totalErrors, 1)
	}

	m.mu.Lock()
	m.totalLatency += latency

	if latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}

	switch {
	case latency < 100*time.Millisecond:
		m.latencyBuckets[0]++
	case latency < 500*time.Millisecond:
		m.latencyBuckets[1]++
	case latency < 1*time.Second:
		m.latencyBuckets[2]++
	case latency < 2*time.Second:
		m.latencyBuckets[3]++
	case latency < 5*time.Second:
		m.latencyBuckets[4]++
	default:
		m.latencyBuckets[5]++
	}

	if _, ok := m.modelStats[req.Model]; !ok {
		m.modelStats[req.Model] = &ModelMetrics{}
	}
	m.modelStats[req.Model].Calls++
	m.modelStats[req.Model].TotalLatency += latency
	if err != nil {
		m.modelStats[req.Model].Errors++
	}
	m.mu.Unlock()

	var callCost float64
	if resp != nil && resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		usage := resp.Usage
		atomic.AddInt64(&m.totalTokens, int64(usage.TotalTokens))
		atomic.AddInt64(&m.totalInputTokens, int64(usage.PromptTokens))
		atomic.AddInt64(&m.totalOutputTokens, int64(usage.CompletionTokens))

		rates := GetCostRate(m.id)
		inputCost := float64(usage.PromptTokens) / 1_000_000.0 * rates.InputPerMillion
		outputCost := float64(usage.CompletionTokens) / 1_000_000.0 * rates.OutputPerMillion
		callCost = inputCost + outputCost

		m.mu.Lock()
		m.estimatedCostUSD += callCost
		if stats, ok := m.modelStats[req.Model]; ok {
			stats.InputTokens += int64(usage.PromptTokens)
			stats.OutputTokens += int64(usage.CompletionTokens)
			stats.EstimatedCost += callCost
		}
		m.mu.Unlock()
	}

	if err != nil {
		m.log.Warn("[LLM-Metrics] %s/%s FAILED after %v: %v", m.id, req.Model, latency, err)
	} else {
		tokens := 0
		if resp != nil && resp.Usage != nil {
			tokens = resp.Usage.TotalTokens
		}
		if callCost > 0 {
			m.log.Info("[LLM-Metrics] %s/%s completed in %v (%d tokens, $%.6f)", m.id, req.Model, latency, tokens, callCost)
		} else {
			m.log.Info("[LLM-Metrics] %s/%s completed in %v (%d tokens, free)", m.id, req.Model, latency, tokens)
		}
	}

	return resp, err
}

// Name implements Provider.
func (m *MetricsProvider) Name() ProviderID {
	return m.id
}

// Enabled implements Provider.
func (m *MetricsProvider) Enabled() bool {
	return m.provider.Enabled()
}

// Probe implements Provider.
func (m *MetricsProvider) Probe(ctx context.Context) bool {
	return m.provider.Probe(ctx)
}

// ListModels implements Provider.
func (m *MetricsProvider) ListModels(ctx context.Context) ([]string, error) {
	return m.provider.ListModels(ctx)
}

// ResolveModel implements Provider.
func (m *MetricsProvider) ResolveModel(logical string) (string, error) {
	return m.provider.ResolveModel(logical)
}

// GetMetrics returns current metrics.
func (m *MetricsProvider) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := atomic.LoadInt64(&m.totalCalls)
	errs := atomic.LoadInt64(&m.totalErrors)
	inputTokens := atomic.LoadInt64(&m.totalInputTokens)
	outputTokens := atomic.LoadInt64(&m.totalOutputTokens)

	avgLatency := time.Duration(0)
	if calls > 0 {
		avgLatency = m.totalLatency / time.Duration(calls)
	}

	errorRate := float64(0)
	if calls > 0 {
		errorRate = float64(errs) / float64(calls)
	}

	modelBreakdown := make(map[string]interface{})
	for model, stats := range m.modelStats {
		avgModelLatency := time.Duration(0)
		if stats.Calls > 0 {
			avgModelLatency = stats.TotalLatency / time.Duration(stats.Calls)
		}
		modelBreakdown[model] = map[string]interface{}{
			"calls":          stats.Calls,
			"errors":         stats.Errors,
			"avg_latency_ms": avgModelLatency.Milliseconds(),
			"input_tokens":   stats.InputTokens,
			"output_tokens":  stats.OutputTokens,
			"cost_usd":       stats.EstimatedCost,
		}
	}

	return map[string]interface{}{
		"provider":       string(m.id),
		"is_local":       IsLocalProvider(m.id),
		"total_calls":    calls,
		"total_errors":   errs,
		"error_rate":     errorRate,
		"total_tokens":   atomic.LoadInt64(&m.totalTokens),
		"input_tokens":   inputTokens,
		"output_tokens":  outputTokens,
		"estimated_cost": m.estimatedCostUSD,
		"avg_latency_ms": avgLatency.Milliseconds(),
		"min_latency_ms": m.minLatency.Milliseconds(),
		"max_latency_ms": m.maxLatency.Milliseconds(),
		"latency_histogram": map[string]int64{
			"<100ms": m.latencyBuckets[0],
			"<500ms": m.latencyBuckets[1],
			"<1s":    m.latencyBuckets[2],
			"<2s":    m.latencyBuckets[3],
			"<5s":    m.latencyBuckets[4],
			"5s+":    m.latencyBuckets[5],
		},
		"models": modelBreakdown,
	}
}

// GetCostSummary returns a human-readable cost summary.
func (m *MetricsProvider) GetCostSummary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := atomic.LoadInt64(&m.totalCalls)
	tokens := atomic.LoadInt64(&m.totalTokens)

	if calls == 0 {
		return fmt.Sprintf("%s: no calls", m.id)
	}

	if IsLocalProvider(m.id) {
		return fmt.Sprintf("%s: %d calls, %d tokens (free)", m.id, calls, tokens)
	}

	return fmt.Sprintf("%s: %d calls, %d tokens, $%.4f", m.id, calls, tokens, m.estimatedCostUSD)
}

// Reset clears all metrics.
func (m *MetricsProvider) Reset() {
	atomic.StoreInt64(&m.totalCalls, 0)
	atomic.StoreInt64(&m.totalErrors, 0)
	atomic.StoreInt64(&m.totalTokens, 0)
	atomic.StoreInt64(&m.totalInputTokens, 0)
	atomic.StoreInt64(&m.totalOutputTokens, 0)

	m.mu.Lock()
	m.totalLatency = 0
	m.minLatency = time.Hour
	m.maxLatency = 0
	m.latencyBuckets = make([]int64, 6)
	m.modelStats = make(map[string]*ModelMetrics)
	m.estimatedCostUSD = 0
	m.mu.Unlock()
}

// Unwrap returns the underlying provider.
func (m *MetricsProvider) Unwrap() Provider {
	return m.provider
}
