package environments

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"

	"github.com/contrast-oss/license-exporter/internal/config"
	internalerrors "github.com/contrast-oss/license-exporter/internal/errors"
	"github.com/contrast-oss/license-exporter/pkg/contrast"
	"github.com/rs/zerolog/log"
)

// Client is the TeamServer capability an environment needs.
// *contrast.Client satisfies it.
type Client interface {
	TestConnection(ctx context.Context) error
	TestOrgAccess(ctx context.Context, orgUUID string) error
	ListOrgApplications(ctx context.Context, orgUUID string, opts contrast.ListOptions) ([]contrast.Application, error)
}

// ClientFactory constructs the client for one environment record.
type ClientFactory func(env config.Environment) (Client, error)

// ContrastClientFactory builds real TeamServer clients.
func ContrastClientFactory(env config.Environment) (Client, error) {
	return contrast.NewClient(env.ClientConfig())
}

// Environment is a validated, immutable handle to one TeamServer organization.
type Environment struct {
	Name    string
	OrgUUID string
	Index   int
	Client  Client
}

// ListLicensedApplications lists the environment's licensed applications,
// archived included and merged excluded.
func (e *Environment) ListLicensedApplications(ctx context.Context) ([]contrast.Application, error) {
	return e.Client.ListOrgApplications(ctx, e.OrgUUID, contrast.LicensedFilter())
}

// Registry maps environment names to validated handles, preserving
// configuration order.
type Registry struct {
	order  []string
	byName map[string]*Environment
}

// Build validates every record and returns a registry, or the first error.
// Duplicate names are detected before any client is created or contacted.
// No partial registry is ever returned.
func Build(ctx context.Context, records []config.Environment, factory ClientFactory) (*Registry, error) {
	if factory == nil {
		factory = ContrastClientFactory
	}

	seen := make(map[string]int, len(records))
	for i, rec := range records {
		if first, ok := seen[rec.Name]; ok {
			return nil, internalerrors.ForEnvironment(internalerrors.KindConfig, "register_environment", rec.Name, i,
				fmt.Errorf("%w: already added as environment[%d], please use distinct names", internalerrors.ErrDuplicateName, first))
		}
		seen[rec.Name] = i
	}

	reg := &Registry{
		order:  make([]string, 0, len(records)),
		byName: make(map[string]*Environment, len(records)),
	}

	for i, rec := range records {
		env, err := connect(ctx, i, rec, factory)
		if err != nil {
			return nil, err
		}
		reg.order = append(reg.order, env.Name)
		reg.byName[env.Name] = env

		log.Info().
			Str("environment", env.Name).
			Int("index", i).
			Msg("Environment validated")
	}

	return reg, nil
}

func connect(ctx context.Context, index int, rec config.Environment, factory ClientFactory) (*Environment, error) {
	client, err := factory(rec)
	if err != nil {
		return nil, internalerrors.ForEnvironment(internalerrors.KindConfig, "create_client", rec.Name, index, err)
	}

	if err := client.TestConnection(ctx); err != nil {
		return nil, classify("test_connection", internalerrors.KindConnection, rec.Name, index, err)
	}
	if err := client.TestOrgAccess(ctx, rec.OrgUUID); err != nil {
		return nil, classify("test_org_access", internalerrors.KindAuth, rec.Name, index, err)
	}

	return &Environment{
		Name:    rec.Name,
		OrgUUID: rec.OrgUUID,
		Index:   index,
		Client:  client,
	}, nil
}

func classify(op string, kind internalerrors.ErrorKind, name string, index int, err error) error {
	exErr := internalerrors.ForEnvironment(kind, op, name, index, err)
	var apiErr *contrast.APIError
	if stdErrors.As(err, &apiErr) {
		exErr = exErr.WithStatusCode(apiErr.StatusCode)
		if apiErr.StatusCode != http.StatusUnauthorized && apiErr.StatusCode != http.StatusForbidden && kind == internalerrors.KindAuth {
			exErr.Kind = internalerrors.KindAPI
		}
	}
	return exErr
}

// Len returns the number of environments.
func (r *Registry) Len() int {
	return len(r.order)
}

// Names returns environment names in configuration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Each calls fn for every environment in configuration order, stopping at
// the first error.
func (r *Registry) Each(fn func(env *Environment) error) error {
	for _, name := range r.order {
		if err := fn(r.byName[name]); err != nil {
			return err
		}
	}
	return nil
}
