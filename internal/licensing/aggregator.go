package licensing

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/contrast-oss/license-exporter/internal/environments"
	internalerrors "github.com/contrast-oss/license-exporter/internal/errors"
	"github.com/contrast-oss/license-exporter/internal/logging"
	"github.com/contrast-oss/license-exporter/pkg/contrast"
	"github.com/google/uuid"
)

// Result is the outcome of one aggregation cycle.
//
// UniqueCount is deduplicated across every environment, while
// EnvironmentLanguageCounts and EnvironmentTotals are raw per-environment
// occurrences: an application listed by two environments is counted once
// in each of them but only once in UniqueCount.
type Result struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration

	UniqueCount               int
	EnvironmentLanguageCounts map[string]map[string]int
	EnvironmentTotals         map[string]int
}

// EnvironmentTotal returns the sum of an environment's per-language counts.
func (r *Result) EnvironmentTotal(environment string) int {
	total := 0
	for _, count := range r.EnvironmentLanguageCounts[environment] {
		total += count
	}
	return total
}

// RawTotal returns the number of application records listed across all
// environments, duplicates included.
func (r *Result) RawTotal() int {
	total := 0
	for env := range r.EnvironmentLanguageCounts {
		total += r.EnvironmentTotal(env)
	}
	return total
}

// Aggregator counts licensed applications across a validated registry.
type Aggregator struct {
	registry *environments.Registry
	now      func() time.Time
}

// NewAggregator creates an Aggregator over registry.
func NewAggregator(registry *environments.Registry) *Aggregator {
	return &Aggregator{
		registry: registry,
		now:      time.Now,
	}
}

// Run performs one aggregation cycle. A listing failure in any environment
// aborts the cycle; no partial result is returned.
func (a *Aggregator) Run(ctx context.Context) (*Result, error) {
	started := a.now()
	cycleID := uuid.NewString()
	ctx = logging.WithCycleID(ctx, cycleID)
	logger := logging.FromContext(ctx)

	apps := make(map[Identity]struct{})
	result := &Result{
		CycleID:                   cycleID,
		StartedAt:                 started,
		EnvironmentLanguageCounts: make(map[string]map[string]int, a.registry.Len()),
		EnvironmentTotals:         make(map[string]int, a.registry.Len()),
	}

	err := a.registry.Each(func(env *environments.Environment) error {
		logger.Info().Str("environment", env.Name).Msg("Listing applications for environment")

		listed, err := env.ListLicensedApplications(ctx)
		if err != nil {
			return listError(env, err)
		}

		languageCount := make(map[string]int)
		for _, app := range listed {
			apps[IdentityOf(app)] = struct{}{}
			languageCount[app.Language]++
		}

		logger.Debug().
			Str("environment", env.Name).
			Int("unique", len(apps)).
			Msg("Unique application count updated")
		logger.Info().
			Str("environment", env.Name).
			Int("count", len(listed)).
			Msg("Environment application count")

		result.EnvironmentLanguageCounts[env.Name] = languageCount
		result.EnvironmentTotals[env.Name] = len(listed)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.UniqueCount = len(apps)
	result.Duration = a.now().Sub(started)

	logger.Info().
		Int("unique", result.UniqueCount).
		Int("environments", a.registry.Len()).
		Dur("duration", result.Duration).
		Msg("Unique license count")

	return result, nil
}

func listError(env *environments.Environment, err error) error {
	exErr := internalerrors.ForEnvironment(internalerrors.KindAPI, "list_applications", env.Name, internalerrors.NoIndex, err)
	var apiErr *contrast.APIError
	if stdErrors.As(err, &apiErr) {
		exErr = exErr.WithStatusCode(apiErr.StatusCode)
	}
	return exErr
}
