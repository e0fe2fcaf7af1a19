package registry

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/revops-dashboard/internal/model"
)

// LoadPipelinesFromFile reads a JSON array of model.Pipeline from the
// given path. Used for local runs and tests when CRM pipeline
// metadata is unavailable.
func LoadPipelinesFromFile(path string) ([]model.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read pipelines fixture")
	}

	var pipelines []model.Pipeline
	if err := json.Unmarshal(data, &pipelines); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal pipelines fixture")
	}

	return pipelines, nil
}
