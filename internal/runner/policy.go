package runner

import (
	"errors"
	"fmt"
	"strings"
)

// Policy decides what a stage failure does to the rest of the run.
type Policy string

const (
	// PolicyIgnore keeps going and never reports stage failures as a run error.
	PolicyIgnore Policy = "ignore"
	// PolicyCollect keeps going and reports every failure at the end.
	PolicyCollect Policy = "collect"
	// PolicyTicker skips the rest of a failing ticker and reports at the end.
	PolicyTicker Policy = "ticker"
	// PolicyHalt stops the whole run at the first failure.
	PolicyHalt Policy = "halt"
)

// DefaultPolicy is used when nothing else is configured.
const DefaultPolicy = PolicyTicker

// ParsePolicy accepts a policy name, case-insensitively. Empty means DefaultPolicy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultPolicy, nil
	case PolicyIgnore, PolicyCollect, PolicyTicker, PolicyHalt:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want ignore, collect, ticker or halt)", s)
	}
}

func (p Policy) skipsTicker() bool {
	return p == PolicyTicker
}

func (p Policy) halts() bool {
	return p == PolicyHalt
}

// result turns the collected faults into the run's error.
func (p Policy) result(faults []error) error {
	if len(faults) == 0 || p == PolicyIgnore {
		return nil
	}
	if p == PolicyHalt {
		return faults[0]
	}
	return errors.Join(faults...)
}
