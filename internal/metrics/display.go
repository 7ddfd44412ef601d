// Package metrics provides Prometheus metrics for the display pipeline.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "displaynode"

var (
	powerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "power_transitions_total",
		Help:      "Power transitions by pipe, target and result",
	}, []string{"pipe", "target", "result"})

	pipePowered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "powered",
		Help:      "1 when the pipe is on",
	}, []string{"pipe"})

	pixelClock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "pixel_clock_hz",
		Help:      "Pixel clock of the current mode",
	}, []string{"pipe"})

	vblankInterrupts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "vblank_interrupts_total",
		Help:      "Serviced vertical blank interrupts",
	}, []string{"pipe"})

	hotplugNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hotplug",
		Name:      "notifications_total",
		Help:      "Debounced connection changes",
	}, []string{"pipe", "connected"})

	phyLockTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "phy_lock_timeouts_total",
		Help:      "PHY or PLL lock polls that timed out",
	}, []string{"backend"})

	irqDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "irq",
		Name:      "dropped_total",
		Help:      "Interrupt events dropped because the reactor queue was full",
	}, []string{"source"})

	layerCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "layer",
		Name:      "commits_total",
		Help:      "Layer register commits",
	}, []string{"pipe", "layer"})
)

func pipeLabel(pipe int) string {
	return strconv.Itoa(pipe)
}

// RecordPowerTransition counts a finished power transition.
func RecordPowerTransition(pipe int, target string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	powerTransitions.WithLabelValues(pipeLabel(pipe), target, result).Inc()
}

// SetPipePowered records whether a pipe is on.
func SetPipePowered(pipe int, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	pipePowered.WithLabelValues(pipeLabel(pipe)).Set(v)
}

// SetPixelClock records the pixel clock of a pipe's mode.
func SetPixelClock(pipe int, hz int64) {
	pixelClock.WithLabelValues(pipeLabel(pipe)).Set(float64(hz))
}

// IncVblank counts a vblank interrupt.
func IncVblank(pipe int) {
	vblankInterrupts.WithLabelValues(pipeLabel(pipe)).Inc()
}

// IncHotplug counts a debounced hotplug notification.
func IncHotplug(pipe int, connected bool) {
	hotplugNotifications.WithLabelValues(pipeLabel(pipe), strconv.FormatBool(connected)).Inc()
}

// IncPHYLockTimeout counts a PHY lock timeout.
func IncPHYLockTimeout(backend string) {
	phyLockTimeouts.WithLabelValues(backend).Inc()
}

// IncIRQDropped counts an interrupt event dropped by the reactor.
func IncIRQDropped(source string) {
	irqDropped.WithLabelValues(source).Inc()
}

// IncLayerCommit counts a layer commit.
func IncLayerCommit(pipe, layer int) {
	layerCommits.WithLabelValues(pipeLabel(pipe), strconv.Itoa(layer)).Inc()
}

// DeletePipe removes the per-pipe gauges of a pipe.
func DeletePipe(pipe int) {
	pipePowered.DeleteLabelValues(pipeLabel(pipe))
	pixelClock.DeleteLabelValues(pipeLabel(pipe))
}

// Handler serves every promauto-registered metric.
func Handler() http.Handler {
	return promhttp.Handler()
}
