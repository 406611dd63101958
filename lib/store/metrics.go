package store

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Metrics (VictoriaMetrics, default registry)
// --------------------------------------------------------------------------

var (
	loadsTotal      = metrics.NewCounter(`skv_loads_total`)
	loadErrorsTotal = metrics.NewCounter(`skv_load_errors_total`)
	savesTotal      = metrics.NewCounter(`skv_saves_total`)
	saveErrorsTotal = metrics.NewCounter(`skv_save_errors_total`)
	rowsSkipped     = metrics.NewCounter(`skv_rows_skipped_total`)
	rowsFailed      = metrics.NewCounter(`skv_rows_failed_total`)
	rowsCopied      = metrics.NewCounter(`skv_rows_copied_total`)
)

func flushCounter(partition string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`skv_flush_total{partition=%q}`, partition))
}

func flushErrorCounter(partition string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`skv_flush_errors_total{partition=%q}`, partition))
}

func flushDuration(partition string) *metrics.Histogram {
	return metrics.GetOrCreateHistogram(fmt.Sprintf(`skv_flush_duration_seconds{partition=%q}`, partition))
}

func accessCounter(scope Scope, action Action) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`skv_access_total{scope=%q,action=%q}`, scope, action))
}

// partitionLabel maps a savefile to the metric label (slot names are unbounded)
func partitionLabel(savefile string) string {
	if savefile == "" {
		return "global"
	}
	return "save"
}

// WriteMetrics writes all sKV metrics in Prometheus text format.
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
