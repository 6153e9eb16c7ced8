package api

import (
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/obsidianstack/octo-agent/pkg/types"
)

// Metric names exposed on GET /metrics.
const (
	metricKilometers  = "octo_total_kilometers"
	metricLastUpdate  = "octo_last_update_timestamp_seconds"
	metricFetchErrors = "octo_fetch_errors_total"
	metricUp          = "octo_up"
)

// metrics returns GET /metrics: Prometheus text exposition.
func (h *Handler) metrics(w http.ResponseWriter, _ *http.Request) {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	w.WriteHeader(http.StatusOK)

	enc := expfmt.NewEncoder(w, format)
	for _, mf := range BuildFamilies(h.src.Status(), h.src.Username()) {
		if err := enc.Encode(mf); err != nil {
			slog.Warn("api: encoding metrics failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

// BuildFamilies converts a status snapshot into metric families. The
// kilometers and last-update gauges are omitted until a reading exists.
func BuildFamilies(st types.Status, username string) []*dto.MetricFamily {
	id := []*dto.LabelPair{label("unique_id", types.UniqueID(username))}

	var out []*dto.MetricFamily
	if r := st.Reading; r != nil {
		out = append(out,
			gauge(metricKilometers, "Total kilometers driven as reported by the OCTO portal.", r.Value, id...),
			gauge(metricLastUpdate, "Unix time of the date the current reading refers to.",
				float64(r.ObservedAt.Unix()), id...),
		)
	}

	errs := &dto.MetricFamily{
		Name: proto.String(metricFetchErrors),
		Help: proto.String("Failed refreshes by error kind."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, k := range types.ErrorKinds {
		errs.Metric = append(errs.Metric, &dto.Metric{
			Label:   append([]*dto.LabelPair{label("kind", string(k))}, id...),
			Counter: &dto.Counter{Value: proto.Float64(float64(st.ErrorCounts[k]))},
		})
	}
	out = append(out, errs)

	up := 0.0
	if st.Reading != nil && st.LastError == nil {
		up = 1
	}
	out = append(out, gauge(metricUp, "1 when the last refresh succeeded.", up, id...))
	return out
}

func gauge(name, help string, v float64, labels ...*dto.LabelPair) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{
			Label: labels,
			Gauge: &dto.Gauge{Value: proto.Float64(v)},
		}},
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}
