package contrast

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/contrast-oss/license-exporter/pkg/tlsutil"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageSize = 100
	maxErrorBody    = 4 << 10
)

// QuickFilterLicensed restricts application listings to license-consuming applications.
const QuickFilterLicensed = "LICENSED"

// Client talks to the REST API of one TeamServer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     ClientConfig
	authHeader string
}

// ClientConfig holds the connection settings for a TeamServer.
type ClientConfig struct {
	URL           string
	APIKey        string
	Username      string
	ServiceKey    string
	Authorization string // pre-computed Authorization header; overrides Username/ServiceKey
	VerifySSL     bool
	Timeout       time.Duration
	PageSize      int
}

// MetadataEntity is one metadata field attached to an application.
type MetadataEntity struct {
	FieldName  string `json:"fieldName"`
	FieldValue string `json:"fieldValue"`
}

// Application is the subset of an application record needed to identify it.
type Application struct {
	Name             string           `json:"name"`
	Language         string           `json:"language"`
	MetadataEntities []MetadataEntity `json:"metadataEntities"`
}

// ListOptions are the filter parameters of the application filter endpoint.
type ListOptions struct {
	IncludeArchived bool
	IncludeMerged   bool
	QuickFilter     string
}

// LicensedFilter is the fixed query used for license counting: licensed
// applications, archived included, merged excluded.
func LicensedFilter() ListOptions {
	return ListOptions{
		IncludeArchived: true,
		IncludeMerged:   false,
		QuickFilter:     QuickFilterLicensed,
	}
}

type applicationPage struct {
	Success      bool          `json:"success"`
	Applications []Application `json:"applications"`
	Count        int           `json:"count"`
}

// APIError is returned for TeamServer responses with status >= 400.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return fmt.Sprintf("authentication error: API error %d on %s: %s", e.StatusCode, e.Path, e.Body)
	}
	return fmt.Sprintf("API error %d on %s: %s", e.StatusCode, e.Path, e.Body)
}

// NewClient validates cfg, fills in defaults and builds the request headers.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("TeamServer URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}

	authHeader := strings.TrimSpace(cfg.Authorization)
	if authHeader == "" {
		if cfg.Username == "" || cfg.ServiceKey == "" {
			return nil, fmt.Errorf("either authorization or username and service key are required")
		}
		authHeader = base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.ServiceKey))
	}

	baseURL := normalizeBaseURL(cfg.URL)
	if strings.HasPrefix(baseURL, "http://") {
		log.Warn().Str("url", cfg.URL).Msg("Using HTTP for TeamServer connection - consider enabling HTTPS")
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: tlsutil.CreateHTTPClient(cfg.VerifySSL, cfg.Timeout),
		config:     cfg,
		authHeader: authHeader,
	}, nil
}

// normalizeBaseURL turns "host", "https://host" or "https://host/Contrast/"
// into "https://host/Contrast/api".
func normalizeBaseURL(raw string) string {
	host := strings.TrimSpace(raw)
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	host = strings.TrimRight(host, "/")
	host = strings.TrimSuffix(host, "/api")
	if !strings.HasSuffix(host, "/Contrast") {
		host += "/Contrast"
	}
	return host + "/api"
}

func (c *Client) request(ctx context.Context, method, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("API-Key", c.config.APIKey)
	req.Header.Set("Authorization", c.authHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Path: path, Body: strings.TrimSpace(string(body))}
	}

	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	resp, err := c.request(ctx, http.MethodGet, path, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) expectOK(ctx context.Context, path string) error {
	resp, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Path: path}
	}
	return nil
}

// TestConnection verifies the TeamServer is reachable and the credentials are accepted.
func (c *Client) TestConnection(ctx context.Context) error {
	return c.expectOK(ctx, "/ng/profile")
}

// TestOrgAccess verifies the credentials can read the given organization.
func (c *Client) TestOrgAccess(ctx context.Context, orgUUID string) error {
	return c.expectOK(ctx, "/ng/profile/organizations/"+url.PathEscape(orgUUID))
}

// ListOrgApplications pages through the application filter endpoint and
// returns every application matching opts.
func (c *Client) ListOrgApplications(ctx context.Context, orgUUID string, opts ListOptions) ([]Application, error) {
	path := "/ng/" + url.PathEscape(orgUUID) + "/applications/filter"
	limit := c.config.PageSize

	var apps []Application
	for {
		offset := len(apps)
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(limit))
		params.Set("includeArchived", strconv.FormatBool(opts.IncludeArchived))
		params.Set("includeMerged", strconv.FormatBool(opts.IncludeMerged))
		if opts.QuickFilter != "" {
			params.Set("quickFilter", opts.QuickFilter)
		}
		params.Set("expand", "metadata,skip_links")

		var page applicationPage
		if err := c.getJSON(ctx, path, params, &page); err != nil {
			return nil, err
		}

		apps = append(apps, page.Applications...)
		log.Trace().
			Str("org", orgUUID).
			Int("offset", offset).
			Int("page", len(page.Applications)).
			Int("count", page.Count).
			Msg("Fetched application page")

		// The server may return fewer records than requested, so the next
		// offset follows what was actually received.
		if len(page.Applications) == 0 || len(apps) >= page.Count {
			break
		}
	}

	return apps, nil
}
