package licensing

import (
	"sort"
	"strings"

	"github.com/contrast-oss/license-exporter/pkg/contrast"
)

// Identity is the composite key that decides whether two applications
// consume the same license. It is comparable and usable as a map key.
type Identity struct {
	Name     string
	Language string
	Metadata string
}

// IdentityOf derives the identity of an application record.
func IdentityOf(app contrast.Application) Identity {
	return Identity{
		Name:     app.Name,
		Language: app.Language,
		Metadata: CanonicalMetadata(app.MetadataEntities),
	}
}

// CanonicalMetadata renders metadata as "field=value" pairs sorted by field
// name and joined with commas. The input slice is not modified.
func CanonicalMetadata(entities []contrast.MetadataEntity) string {
	if len(entities) == 0 {
		return ""
	}

	sorted := make([]contrast.MetadataEntity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FieldName < sorted[j].FieldName
	})

	var b strings.Builder
	for i, entity := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(entity.FieldName)
		b.WriteByte('=')
		b.WriteString(entity.FieldValue)
	}
	return b.String()
}

func (id Identity) String() string {
	return id.Name + "/" + id.Language + "[" + id.Metadata + "]"
}
