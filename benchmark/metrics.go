package benchmark

import (
	"math"
	"runtime"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PerformanceMetrics captures the decode timings of one scenario.
type PerformanceMetrics struct {
	Scenario           Scenario      `json:"scenario"`
	Timestamp          time.Time     `json:"timestamp"`
	TotalDuration      time.Duration `json:"total_duration"`
	Latency            LatencyStats  `json:"latency"`
	BatchesPerSecond   float64       `json:"batches_per_second"`
	DetectionsPerBatch float64       `json:"detections_per_batch"`
	ErrorRate          float64       `json:"error_rate"`
	MemoryStats        MemoryMetrics `json:"memory_stats"`
	NumCPU             int           `json:"num_cpu"`
}

// LatencyStats summarizes per-batch decode times in milliseconds.
type LatencyStats struct {
	Samples int     `json:"samples"`
	MeanMS  float64 `json:"mean_ms"`
	StdDev  float64 `json:"stddev_ms"`
	MinMS   float64 `json:"min_ms"`
	MaxMS   float64 `json:"max_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// Summarize computes latency statistics. The input is not modified.
func Summarize(samplesMS []float64) LatencyStats {
	if len(samplesMS) == 0 {
		return LatencyStats{}
	}
	sorted := append([]float64(nil), samplesMS...)
	sort.Float64s(sorted)

	s := LatencyStats{
		Samples: len(sorted),
		MeanMS:  stat.Mean(sorted, nil),
		MinMS:   floats.Min(sorted),
		MaxMS:   floats.Max(sorted),
		P50MS:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P95MS:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99MS:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	return s
}

func memoryDelta(start, end *runtime.MemStats) MemoryMetrics {
	return MemoryMetrics{
		AllocBytes:      end.Alloc,
		TotalAllocBytes: end.TotalAlloc - start.TotalAlloc,
		SysBytes:        end.Sys,
		NumGC:           end.NumGC - start.NumGC,
		HeapAllocBytes:  end.HeapAlloc,
		HeapSysBytes:    end.HeapSys,
	}
}

// finite replaces NaN and infinities, which JSON cannot carry, with zero.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
