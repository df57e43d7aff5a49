package contrast

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func newTestClient(t *testing.T, serverURL string, pageSize int) *Client {
	t.Helper()

	client, err := NewClient(ClientConfig{
		URL:        serverURL,
		APIKey:     "api-key",
		Username:   "svc@example.com",
		ServiceKey: "service-key",
		PageSize:   pageSize,
	})
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(ClientConfig{APIKey: "k", Authorization: "a"}); err == nil {
		t.Fatal("expected error for missing URL")
	}
	if _, err := NewClient(ClientConfig{URL: "ts.example.com", Authorization: "a"}); err == nil {
		t.Fatal("expected error for missing API key")
	}
	if _, err := NewClient(ClientConfig{URL: "ts.example.com", APIKey: "k", Username: "u"}); err == nil {
		t.Fatal("expected error for missing service key")
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"ts.example.com":                      "https://ts.example.com/Contrast/api",
		"https://ts.example.com/":             "https://ts.example.com/Contrast/api",
		"https://ts.example.com/Contrast":     "https://ts.example.com/Contrast/api",
		"https://ts.example.com/Contrast/api": "https://ts.example.com/Contrast/api",
		"http://10.0.0.5:8080/Contrast/":      "http://10.0.0.5:8080/Contrast/api",
	}
	for input, want := range tests {
		if got := normalizeBaseURL(input); got != want {
			t.Fatalf("normalizeBaseURL(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRequestHeaders(t *testing.T) {
	t.Parallel()

	wantAuth := base64.StdEncoding.EncodeToString([]byte("svc@example.com:service-key"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Contrast/api/ng/profile" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("API-Key"); got != "api-key" {
			t.Errorf("expected API-Key header, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != wantAuth {
			t.Errorf("expected Authorization %q, got %q", wantAuth, got)
		}
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	if err := client.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection failed: %v", err)
	}
}

func TestExplicitAuthorizationHeaderWins(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "precomputed" {
			t.Errorf("expected precomputed Authorization header, got %q", got)
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{URL: server.URL, APIKey: "k", Authorization: "precomputed", Username: "ignored"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection failed: %v", err)
	}
}

func TestTestOrgAccessForbidden(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Contrast/api/ng/profile/organizations/org-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"success":false,"messages":["Access denied"]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	err := client.TestOrgAccess(context.Background(), "org-1")
	if err == nil {
		t.Fatal("expected error for forbidden org access")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", apiErr.StatusCode)
	}
}

func TestListOrgApplicationsPaginates(t *testing.T) {
	t.Parallel()

	all := []Application{
		{Name: "A", Language: "Java"},
		{Name: "B", Language: "Python", MetadataEntities: []MetadataEntity{{FieldName: "tier", FieldValue: "1"}}},
		{Name: "C", Language: "Node"},
		{Name: "D", Language: "Java"},
		{Name: "E", Language: ".NET"},
	}

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/Contrast/api/ng/org-1/applications/filter" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("includeArchived") != "true" || q.Get("includeMerged") != "false" || q.Get("quickFilter") != "LICENSED" {
			t.Errorf("unexpected filter params: %s", r.URL.RawQuery)
		}
		offset, _ := strconv.Atoi(q.Get("offset"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(applicationPage{
			Success:      true,
			Applications: all[offset:end],
			Count:        len(all),
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	apps, err := client.ListOrgApplications(context.Background(), "org-1", LicensedFilter())
	if err != nil {
		t.Fatalf("ListOrgApplications failed: %v", err)
	}
	if len(apps) != len(all) {
		t.Fatalf("expected %d apps, got %d", len(all), len(apps))
	}
	if calls != 3 {
		t.Fatalf("expected 3 page requests, got %d", calls)
	}
	if apps[1].MetadataEntities[0].FieldName != "tier" {
		t.Fatalf("expected metadata to be decoded, got %+v", apps[1])
	}
}

func TestListOrgApplicationsFollowsServerPageCap(t *testing.T) {
	t.Parallel()

	const total, serverCap = 250, 100
	all := make([]Application, total)
	for i := range all {
		all[i] = Application{Name: "app-" + strconv.Itoa(i), Language: "Java"}
	}

	var offsets []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		offset, _ := strconv.Atoi(q.Get("offset"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		offsets = append(offsets, offset)
		if limit > serverCap {
			limit = serverCap
		}
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(applicationPage{
			Success:      true,
			Applications: all[offset:end],
			Count:        len(all),
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 200)
	apps, err := client.ListOrgApplications(context.Background(), "org-1", LicensedFilter())
	if err != nil {
		t.Fatalf("ListOrgApplications failed: %v", err)
	}
	if len(apps) != total {
		t.Fatalf("expected %d apps, got %d (offsets %v)", total, len(apps), offsets)
	}
	if want := []int{0, 100, 200}; fmt.Sprint(offsets) != fmt.Sprint(want) {
		t.Fatalf("expected offsets %v, got %v", want, offsets)
	}
	if apps[total-1].Name != "app-249" {
		t.Fatalf("expected last app app-249, got %s", apps[total-1].Name)
	}
}

func TestListOrgApplicationsPropagatesServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	_, err := client.ListOrgApplications(context.Background(), "org-1", LicensedFilter())

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
}
