package config

import (
	"fmt"
	"sort"

	"github.com/Alias1177/PredictorPipeline/models"
)

const (
	PresetBasic = "basic"
	PresetTuned = "tuned"

	presetEndDate = "2024-06-29"
)

var presets = map[string]func() *Pipeline{
	PresetBasic: Basic,
	PresetTuned: Tuned,
}

// Basic trains every ticker with the training script's default hyperparameters.
func Basic() *Pipeline {
	return &Pipeline{
		Name:    PresetBasic,
		EndDate: presetEndDate,
		Tickers: map[string]Ticker{
			"GLD": {StartDate: "2000-01-01"},
			"BTC": {StartDate: "2010-01-01"},
		},
		Cleanup: DefaultCleanup(),
		Stages:  DefaultStages(),
	}
}

// Tuned forwards <SYMBOL>_best_params.json to the training stage.
func Tuned() *Pipeline {
	return &Pipeline{
		Name:    PresetTuned,
		EndDate: presetEndDate,
		Tickers: map[string]Ticker{
			"GLD": {StartDate: "2000-01-01"},
			"BTC": {StartDate: "2015-01-01"},
		},
		ParamsSuffix: DefaultParamsSuffix,
		Cleanup:      DefaultCleanup(),
		Stages:       DefaultStages(),
	}
}

// DefaultCleanup removes the intermediate CSVs and previously trained models.
func DefaultCleanup() Cleanup {
	return Cleanup{Paths: []string{
		"data/processed_data.csv",
		"data/scaled_data.csv",
		"models",
	}}
}

// DefaultStages returns prepare, feature engineering and training in that order.
func DefaultStages() []Stage {
	return []Stage{
		{
			Name:    models.StagePrepareData,
			Command: []string{"python", "src/data/data_preparation.py"},
			Flags:   []string{models.FlagTicker, models.FlagStartDate, models.FlagEndDate},
		},
		{
			Name:    models.StageFeatureEngineering,
			Command: []string{"python", "src/feature_engineering.py"},
			Flags:   []string{models.FlagTicker},
		},
		{
			Name:    models.StageTrainModel,
			Command: []string{"python", "src/train_model.py"},
			Flags:   []string{models.FlagTicker, models.FlagBestParams},
		},
	}
}

// Preset returns a fresh copy of the named built-in pipeline.
func Preset(name string) (*Pipeline, error) {
	build, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q (have %v)", name, PresetNames())
	}
	return build(), nil
}

// PresetNames lists the built-in pipelines.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
