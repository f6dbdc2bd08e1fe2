package runner

import (
	"fmt"

	"github.com/Alias1177/PredictorPipeline/config"
	"github.com/Alias1177/PredictorPipeline/models"
)

// BuildInvocation renders a stage's flags for one ticker. Flags keep the order
// the stage lists them in. best_params is dropped when the job has no
// parameters file.
func BuildInvocation(stage config.Stage, job models.TickerJob) models.Invocation {
	args := make([]string, 0, len(stage.Flags))
	for _, flag := range stage.Flags {
		value, ok := flagValue(flag, job)
		if !ok {
			continue
		}
		args = append(args, fmt.Sprintf("--%s=%s", flag, value))
	}
	return models.Invocation{
		Stage:   stage.Name,
		Ticker:  job.Symbol,
		Command: append([]string(nil), stage.Command...),
		Args:    args,
	}
}

func flagValue(flag string, job models.TickerJob) (string, bool) {
	switch flag {
	case models.FlagTicker:
		return job.Symbol, true
	case models.FlagStartDate:
		return job.StartDate, true
	case models.FlagEndDate:
		return job.EndDate, true
	case models.FlagBestParams:
		return job.ParamsFile, job.ParamsFile != ""
	case models.FlagYFinanceTicker:
		if job.SourceSymbol != "" {
			return job.SourceSymbol, true
		}
		return job.Symbol, true
	}
	return "", false
}

// Plan renders every stage invocation of the pipeline without running anything.
func Plan(p *config.Pipeline) []models.Invocation {
	var out []models.Invocation
	for _, job := range p.Jobs() {
		for _, stage := range p.Stages {
			out = append(out, BuildInvocation(stage, job))
		}
	}
	return out
}
