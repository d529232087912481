package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// TranslationChart renders tx, ty and tz of the retained delta poses
// against sequence number.
func TranslationChart(h *History) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		samples := h.Snapshot()

		xs := make([]string, 0, len(samples))
		var tx, ty, tz []opts.LineData
		for _, s := range samples {
			x, y, z := s.Delta.TranslationVector()
			xs = append(xs, strconv.FormatUint(s.Seq, 10))
			tx = append(tx, opts.LineData{Value: x})
			ty = append(ty, opts.LineData{Value: y})
			tz = append(tz, opts.LineData{Value: z})
		}

		subtitle := "no samples yet"
		if len(samples) > 0 {
			subtitle = fmt.Sprintf("seq %d..%d", samples[0].Seq, samples[len(samples)-1].Seq)
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: "Delta translation", Width: "100%", Height: "600px", AssetsHost: echartsAssetsHost}),
			charts.WithTitleOpts(opts.Title{Title: "Delta pose translation", Subtitle: subtitle}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "seq", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Name: "mm", NameLocation: "middle", NameGap: 40}),
		)
		line.SetXAxis(xs).
			AddSeries("tx", tx).
			AddSeries("ty", ty).
			AddSeries("tz", tz)

		page := components.NewPage()
		page.SetAssetsHost(echartsAssetsHost)
		page.AddCharts(line)

		var buf bytes.Buffer
		if err := page.Render(&buf); err != nil {
			http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}
