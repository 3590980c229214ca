package diagnostics

import (
	"context"
	"fmt"
	"time"
)

// Status is the outcome of one doctor check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Probe is a named check. Run returns a short detail line on success.
// An error from a Probe marked Optional downgrades to a warning.
type Probe struct {
	Name     string
	Optional bool
	Run      func(ctx context.Context) (string, error)
}

// Result is what a Probe reported.
type Result struct {
	Name     string        `json:"name" yaml:"name"`
	Status   Status        `json:"status" yaml:"status"`
	Detail   string        `json:"detail" yaml:"detail"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// RunChecks runs probes in order, each bounded by timeout when positive.
// A panicking probe is reported as failed.
func RunChecks(ctx context.Context, timeout time.Duration, probes ...Probe) []Result {
	results := make([]Result, 0, len(probes))
	for _, p := range probes {
		results = append(results, runProbe(ctx, timeout, p))
	}
	return results
}

func runProbe(ctx context.Context, timeout time.Duration, p Probe) (res Result) {
	res.Name = p.Name
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Status = StatusFail
			res.Detail = fmt.Sprintf("panic: %v", r)
		}
	}()

	detail, err := p.Run(ctx)
	switch {
	case err == nil:
		res.Status, res.Detail = StatusOK, detail
	case p.Optional:
		res.Status, res.Detail = StatusWarn, err.Error()
	default:
		res.Status, res.Detail = StatusFail, err.Error()
	}
	return res
}

// Healthy reports whether no result failed.
func Healthy(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusFail {
			return false
		}
	}
	return true
}
