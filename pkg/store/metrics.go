package store

import (
	"io/fs"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_store_writes_total",
		Help: "Store write operations by kind.",
	}, []string{"op"})

	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_store_reads_total",
		Help: "Store read operations by kind.",
	}, []string{"op"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_store_errors_total",
		Help: "Store operation failures by kind.",
	}, []string{"op"})

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "chatrelay_store_disk_bytes",
		Help: "Best-effort on-disk size of the store directory.",
	}, func() float64 { return float64(DiskUsage()) })
)

func recordWrite(op string) { writesTotal.WithLabelValues(op).Inc() }
func recordRead(op string)  { readsTotal.WithLabelValues(op).Inc() }
func recordError(op string) { errorsTotal.WithLabelValues(op).Inc() }

// DiskUsage returns the total size in bytes of files under the DB path.
// Best-effort; returns 0 when the store is not open.
func DiskUsage() uint64 {
	if db == nil || dbPath == "" {
		return 0
	}
	var total uint64
	_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += uint64(fi.Size())
		}
		return nil
	})
	return total
}
