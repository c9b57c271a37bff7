package embeddings

import (
	"strings"

	"github.com/Benny93/twinscope/internal/dtmi"
	"github.com/Benny93/twinscope/internal/graph"
)

// TwinText generates the text a twin is indexed by: the path segments of
// its DTMI, then its display name and model version when set.
func TwinText(twin *graph.TwinNode) string {
	if twin == nil {
		return ""
	}

	var parts []string
	if id, err := dtmi.Parse(twin.DTMI); err == nil {
		parts = append(parts, id.Path...)
	} else {
		parts = append(parts, twin.DTMI)
	}
	if twin.DisplayName != nil && *twin.DisplayName != "" {
		parts = append(parts, *twin.DisplayName)
	}
	if twin.ModelVersion != nil && *twin.ModelVersion != "" {
		parts = append(parts, "version "+*twin.ModelVersion)
	}

	return strings.Join(parts, " ")
}
