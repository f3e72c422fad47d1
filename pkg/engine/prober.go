package engine

import (
	"context"
)

// ProbeResult is the two-case outcome of an existence probe.
type ProbeResult struct {
	Outcome  ProbeOutcome
	Resource RemoteResource
}

// Found reports whether the resource exists.
func (p ProbeResult) Found() bool {
	return p.Outcome == ProbeFound
}

// Probe fetches the resource identified by (name, container). The
// collaborator's NotFound and Invalid signals both become ProbeNotFound;
// every other error is returned unmodified. Probe has no side effects and may
// be called any number of times.
func Probe(ctx context.Context, client Client, name string, container ContainerSelector) (ProbeResult, error) {
	res, err := client.Fetch(ctx, name, container)
	if err != nil {
		if IsNotFound(err) || IsInvalid(err) {
			return ProbeResult{Outcome: ProbeNotFound}, nil
		}
		return ProbeResult{}, err
	}
	if res == nil {
		return ProbeResult{Outcome: ProbeNotFound}, nil
	}
	return ProbeResult{Outcome: ProbeFound, Resource: res}, nil
}
