package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// Always 1; the labels identify the running binary.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "officener_build_info",
			Help: "Version, commit and Go runtime of the running back-officener binary.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo publishes the binary's version and commit. Calling it again
// replaces the previous label set, so only one series is ever exported.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
