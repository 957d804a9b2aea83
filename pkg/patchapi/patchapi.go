// Package patchapi creates binary deltas between two versions of a file.
package patchapi

import "context"

// Previous is one baseline version of a file and the ranges that describe
// it. Range lists are kept as authored, one decimal or hex value per entry.
type Previous struct {
	Path          string
	Symbols       []string
	IgnoreLengths []string
	IgnoreOffsets []string
	RetainLengths []string
	RetainOffsets []string
}

// Request describes a single delta.
type Request struct {
	DeltaPath string

	Target              string
	TargetSymbols       []string
	TargetRetainOffsets []string

	Previous []Previous

	OptimizeForLargeFiles bool
	APISymbolFlags        int
}

// Result is the outcome of a delta request that did not fail outright.
type Result struct {
	// Created is true when DeltaPath holds a usable delta.
	Created bool

	// RetainRangeMismatch reports that the retain ranges of the target and
	// a baseline disagree. No delta is created in that case.
	RetainRangeMismatch bool
}

// Differ is the binary diff service.
type Differ interface {
	CreateDelta(ctx context.Context, req Request) (Result, error)

	// ExtractDeltaHeader writes the header of deltaPath to headerPath.
	ExtractDeltaHeader(ctx context.Context, deltaPath, headerPath string) error
}

// RetainRangesMatch reports whether every baseline declares as many retain
// ranges as the target.
func RetainRangesMatch(req Request) bool {
	for _, p := range req.Previous {
		if len(p.RetainOffsets) != len(req.TargetRetainOffsets) {
			return false
		}
		if len(p.RetainLengths) != len(p.RetainOffsets) {
			return false
		}
	}
	return true
}
