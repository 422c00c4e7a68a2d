package engine

import (
	"context"
	"fmt"
)

// RodFetchFunc is the callback that runs a fetch on the rod page pool.
// It is injected from main.go to avoid a circular import (engine/ -> scraper/).
type RodFetchFunc func(ctx context.Context, req *FetchRequest) (*FetchResult, error)

// RodEngine is a browser-based engine that delegates to the rod scraper
// via a callback. forceStealth distinguishes "rod" from "rod-stealth".
type RodEngine struct {
	fetchFunc    RodFetchFunc
	forceStealth bool
	name         string
}

// NewRodEngine creates a RodEngine.
func NewRodEngine(fetchFunc RodFetchFunc, forceStealth bool) *RodEngine {
	name := "rod"
	if forceStealth {
		name = "rod-stealth"
	}
	return &RodEngine{
		fetchFunc:    fetchFunc,
		forceStealth: forceStealth,
		name:         name,
	}
}

func (e *RodEngine) Name() string { return e.name }

func (e *RodEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if e.fetchFunc == nil {
		return nil, &FetchError{Kind: Permanent, Engine: e.name, Err: fmt.Errorf("fetchFunc not configured")}
	}

	// Clone the request so we don't mutate the caller's copy.
	r := *req
	if e.forceStealth {
		r.Stealth = true
	}

	result, err := e.fetchFunc(ctx, &r)
	if err != nil {
		fe := Classify(e.name, err)
		fe.Engine = e.name
		return nil, fe
	}

	result.EngineName = e.name
	return result, nil
}
