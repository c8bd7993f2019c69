// Package stats turns the per-instance fetch-time telemetry into averages,
// a printable table and an HTML bar chart.
package stats

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"mastodb/pkg/models"
)

// InstanceStat is the fetch-time summary of one instance.
type InstanceStat struct {
	Domain    string
	FetchTime time.Duration
	Posts     int
	// Pages is the estimated number of full pages fetched.
	Pages float64
	// PerPage is only meaningful when HasAverage is set.
	PerPage    time.Duration
	HasAverage bool
}

// Totals aggregates a set of InstanceStat.
type Totals struct {
	Instances int
	Posts     int
	FetchTime time.Duration
}

// Compute derives the average fetch time per page for every instance as
// fetch_time / (post_count / page_size). Instances without posts get no
// average. The result is sorted by domain.
func Compute(raw []models.FetchStat, pageSize int) []InstanceStat {
	out := make([]InstanceStat, 0, len(raw))
	for _, r := range raw {
		s := InstanceStat{Domain: r.Domain, FetchTime: r.FetchTime, Posts: r.PostCount}
		if r.PostCount > 0 && pageSize > 0 {
			s.Pages = float64(r.PostCount) / float64(pageSize)
			s.PerPage = time.Duration(float64(r.FetchTime) / s.Pages)
			s.HasAverage = true
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Sum returns the totals over stats.
func Sum(stats []InstanceStat) Totals {
	t := Totals{Instances: len(stats)}
	for _, s := range stats {
		t.Posts += s.Posts
		t.FetchTime += s.FetchTime
	}
	return t
}

// Headers names the columns produced by Rows.
var Headers = []string{"Instance", "Posts", "Fetch time", "Avg per page"}

// Rows formats stats for tabular output.
func Rows(stats []InstanceStat) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		avg := "n/a"
		if s.HasAverage {
			avg = formatDuration(s.PerPage)
		}
		rows = append(rows, []string{
			s.Domain,
			humanize.Comma(int64(s.Posts)),
			formatDuration(s.FetchTime),
			avg,
		})
	}
	return rows
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

// RenderChart writes an HTML bar chart of the average seconds per page.
// Instances without an average are left out.
func RenderChart(w io.Writer, stats []InstanceStat) error {
	var (
		names []string
		data  []opts.BarData
	)
	for _, s := range stats {
		if !s.HasAverage {
			continue
		}
		names = append(names, s.Domain)
		data = append(data, opts.BarData{Name: s.Domain, Value: s.PerPage.Seconds()})
	}

	totals := Sum(stats)
	subtitle := fmt.Sprintf("%s posts from %d instances", humanize.Comma(int64(totals.Posts)), totals.Instances)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Average fetch time per page",
			Subtitle: subtitle,
		}),
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "mastodb fetch statistics",
			Theme:     types.ThemeWesteros,
		}),
	)
	bar.SetXAxis(names).AddSeries("Seconds per page", data)
	return bar.Render(w)
}

// WriteChart renders the chart to path.
func WriteChart(path string, stats []InstanceStat) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	if err := RenderChart(f, stats); err != nil {
		f.Close()
		return fmt.Errorf("render chart: %w", err)
	}
	return f.Close()
}
