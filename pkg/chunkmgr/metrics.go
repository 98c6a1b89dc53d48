package chunkmgr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 读取命中的层
const (
	TierMmap    = "mmap"
	TierCache   = "cache"
	TierLocal   = "local"
	TierArchive = "archive"
)

// Metrics 是一个 manager 的 Prometheus 指标，mgr 作为常量标签区分
type Metrics struct {
	ChunkReads *prometheus.CounterVec // ndn_chunk_reads_total{tier}
	ReadMisses prometheus.Counter     // ndn_chunk_read_misses_total
	CacheFills *prometheus.CounterVec // ndn_chunk_cache_fills_total{target}
}

// NewMetrics registry 为 nil 时只创建不注册
func NewMetrics(registry prometheus.Registerer, mgrId string) *Metrics {
	labels := prometheus.Labels{"mgr": mgrId}
	factory := promauto.With(registry)
	return &Metrics{
		ChunkReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "ndn_chunk_reads_total",
			Help:        "Chunk reads served, by tier",
			ConstLabels: labels,
		}, []string{"tier"}),

		ReadMisses: factory.NewCounter(prometheus.CounterOpts{
			Name:        "ndn_chunk_read_misses_total",
			Help:        "Chunk reads that no tier could serve",
			ConstLabels: labels,
		}),

		CacheFills: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "ndn_chunk_cache_fills_total",
			Help:        "Chunks copied into a faster tier after a read",
			ConstLabels: labels,
		}, []string{"target"}),
	}
}

func (m *Metrics) recordRead(tier string) {
	m.ChunkReads.WithLabelValues(tier).Inc()
}

func (m *Metrics) recordMiss() {
	m.ReadMisses.Inc()
}

func (m *Metrics) recordFill(target string) {
	m.CacheFills.WithLabelValues(target).Inc()
}
