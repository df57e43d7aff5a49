package licensing

import (
	"testing"

	"github.com/contrast-oss/license-exporter/pkg/contrast"
)

func TestCanonicalMetadataIsOrderIndependent(t *testing.T) {
	a := []contrast.MetadataEntity{{FieldName: "b", FieldValue: "2"}, {FieldName: "a", FieldValue: "1"}}
	b := []contrast.MetadataEntity{{FieldName: "a", FieldValue: "1"}, {FieldName: "b", FieldValue: "2"}}

	if got := CanonicalMetadata(a); got != "a=1,b=2" {
		t.Fatalf("CanonicalMetadata(a) = %q, want %q", got, "a=1,b=2")
	}
	if CanonicalMetadata(a) != CanonicalMetadata(b) {
		t.Fatal("expected canonical metadata to ignore field order")
	}
	if a[0].FieldName != "b" {
		t.Fatal("expected input slice to be left untouched")
	}
}

func TestCanonicalMetadataEmpty(t *testing.T) {
	if got := CanonicalMetadata(nil); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := CanonicalMetadata([]contrast.MetadataEntity{}); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestIdentityEquality(t *testing.T) {
	tests := []struct {
		name  string
		a, b  contrast.Application
		equal bool
	}{
		{
			name: "same name language and reordered metadata",
			a: contrast.Application{Name: "A", Language: "Java", MetadataEntities: []contrast.MetadataEntity{
				{FieldName: "team", FieldValue: "x"}, {FieldName: "env", FieldValue: "prod"},
			}},
			b: contrast.Application{Name: "A", Language: "Java", MetadataEntities: []contrast.MetadataEntity{
				{FieldName: "env", FieldValue: "prod"}, {FieldName: "team", FieldValue: "x"},
			}},
			equal: true,
		},
		{
			name:  "different language",
			a:     contrast.Application{Name: "A", Language: "Java"},
			b:     contrast.Application{Name: "A", Language: "Python"},
			equal: false,
		},
		{
			name: "different metadata value",
			a: contrast.Application{Name: "A", Language: "Java", MetadataEntities: []contrast.MetadataEntity{
				{FieldName: "tier", FieldValue: "1"},
			}},
			b: contrast.Application{Name: "A", Language: "Java", MetadataEntities: []contrast.MetadataEntity{
				{FieldName: "tier", FieldValue: "2"},
			}},
			equal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IdentityOf(tt.a) == IdentityOf(tt.b); got != tt.equal {
				t.Fatalf("IdentityOf(a) == IdentityOf(b) = %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestIdentityString(t *testing.T) {
	id := Identity{Name: "A", Language: "Java", Metadata: "tier=1"}
	if got := id.String(); got != "A/Java[tier=1]" {
		t.Fatalf("String() = %q", got)
	}
}
