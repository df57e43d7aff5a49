package metrics

import (
	"sort"
	"sync/atomic"

	"github.com/contrast-oss/license-exporter/internal/licensing"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	uniqueDesc = prometheus.NewDesc(
		"contrast_assess_unique_licensed_applications",
		"Number of unique licensed Contrast Assess applications, de-duplicated by name, language and metadata values.",
		nil, nil,
	)
	environmentDesc = prometheus.NewDesc(
		"contrast_assess_licensed_applications_total",
		"Number of licensed Contrast Assess applications on an environment.",
		[]string{"environment"}, nil,
	)
	languageDesc = prometheus.NewDesc(
		"contrast_assess_licensed_applications",
		"Number of licensed Contrast Assess applications in a specific language.",
		[]string{"language", "environment"}, nil,
	)
	listedDesc = prometheus.NewDesc(
		"contrast_assess_exporter_environment_applications_listed",
		"Number of applications returned by the licensed listing of an environment in the last published cycle.",
		[]string{"environment"}, nil,
	)
)

type environmentSample struct {
	environment string
	total       float64
	listed      float64
}

type languageSample struct {
	language    string
	environment string
	count       float64
}

// snapshot is an immutable view of one published cycle.
type snapshot struct {
	unique       float64
	environments []environmentSample
	languages    []languageSample
}

func newSnapshot(result *licensing.Result) *snapshot {
	names := make([]string, 0, len(result.EnvironmentLanguageCounts))
	for env := range result.EnvironmentLanguageCounts {
		names = append(names, env)
	}
	sort.Strings(names)

	snap := &snapshot{
		unique:       float64(result.UniqueCount),
		environments: make([]environmentSample, 0, len(names)),
	}
	for _, env := range names {
		counts := result.EnvironmentLanguageCounts[env]
		languages := make([]string, 0, len(counts))
		total := 0
		for language, count := range counts {
			languages = append(languages, language)
			total += count
		}
		sort.Strings(languages)

		for _, language := range languages {
			snap.languages = append(snap.languages, languageSample{
				language:    language,
				environment: env,
				count:       float64(counts[language]),
			})
		}
		snap.environments = append(snap.environments, environmentSample{
			environment: env,
			total:       float64(total),
			listed:      float64(result.EnvironmentTotals[env]),
		})
	}
	return snap
}

// licenseCollector exposes the most recently published snapshot. Publishing
// swaps the whole snapshot with one atomic store, so a concurrent scrape
// observes either the previous cycle or the new one, never a mix.
type licenseCollector struct {
	current atomic.Pointer[snapshot]
}

func (c *licenseCollector) store(result *licensing.Result) {
	c.current.Store(newSnapshot(result))
}

func (c *licenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- uniqueDesc
	ch <- environmentDesc
	ch <- languageDesc
	ch <- listedDesc
}

func (c *licenseCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.current.Load()
	if snap == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(uniqueDesc, prometheus.GaugeValue, snap.unique)
	for _, s := range snap.environments {
		ch <- prometheus.MustNewConstMetric(environmentDesc, prometheus.GaugeValue, s.total, s.environment)
		ch <- prometheus.MustNewConstMetric(listedDesc, prometheus.GaugeValue, s.listed, s.environment)
	}
	for _, s := range snap.languages {
		ch <- prometheus.MustNewConstMetric(languageDesc, prometheus.GaugeValue, s.count, s.language, s.environment)
	}
}
