package account

import (
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

// Feature names a billable action.
type Feature string

const (
	FeatureGenerate  Feature = "generate"
	FeatureUpscale   Feature = "upscale"
	FeatureVariation Feature = "variation"
	FeatureAtelier   Feature = "atelier"
	FeatureGuide     Feature = "guide"
)

var featureCosts = map[Feature]ledger.Credits{
	FeatureGenerate:  1,
	FeatureUpscale:   1,
	FeatureVariation: 1,
	FeatureAtelier:   1,
	FeatureGuide:     1,
}

// Features lists every billable feature.
func Features() []Feature {
	return []Feature{FeatureGenerate, FeatureUpscale, FeatureVariation, FeatureAtelier, FeatureGuide}
}

// ParseFeature resolves a feature name case-insensitively.
func ParseFeature(raw string) (Feature, error) {
	feature := Feature(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := featureCosts[feature]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFeature, raw)
	}
	return feature, nil
}

// Cost returns the credits charged per use.
func (feature Feature) Cost() ledger.Credits {
	return featureCosts[feature]
}

// String returns the feature name.
func (feature Feature) String() string {
	return string(feature)
}

// BillableAction describes one use of a feature for history purposes.
type BillableAction struct {
	Feature Feature
	// Label is the history category shown to the user, e.g. "Atelier Gen".
	// The feature name is used when empty.
	Label     string
	Task      string
	Detail    string
	ResultRef string
}

func (action BillableAction) category() ledger.Category {
	if strings.TrimSpace(action.Label) != "" {
		return ledger.Category(strings.TrimSpace(action.Label))
	}
	return ledger.Category(action.Feature)
}

func (action BillableAction) task() string {
	if strings.TrimSpace(action.Task) == "" {
		return "No Prompt Provided"
	}
	return action.Task
}
