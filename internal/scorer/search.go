package scorer

import (
	"context"
	"errors"
)

// EncodeFunc encodes at the given quality and scores the result.
type EncodeFunc func(ctx context.Context, quality int) ([]byte, Score, error)

// SearchOptions bound an adaptive quality search.
type SearchOptions struct {
	Target      float64 // minimum acceptable SSIM
	MinQuality  int
	MaxQuality  int
	MaxAttempts int
}

// DefaultSearchAttempts keeps a search within a handful of encodes; a full
// 0-100 bisection needs seven.
const DefaultSearchAttempts = 6

// SearchResult is the encode the search settled on.
type SearchResult struct {
	Quality  int
	Data     []byte
	Score    Score
	Attempts int
	// Met is false when no attempted quality reached the target; the result
	// then holds the best-scoring attempt.
	Met bool
}

// Search bisects the quality range for the lowest quality whose SSIM reaches
// the target. It runs at most MaxAttempts encodes.
func Search(ctx context.Context, opts SearchOptions, encode EncodeFunc) (SearchResult, error) {
	lo, hi := opts.MinQuality, opts.MaxQuality
	if lo < 0 {
		lo = 0
	}
	if hi > 100 || hi <= 0 {
		hi = 100
	}
	if lo > hi {
		return SearchResult{}, errors.New("quality search: empty range")
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultSearchAttempts
	}

	var (
		met      *SearchResult
		fallback *SearchResult
		n        int
	)
	for lo <= hi && n < attempts {
		if err := ctx.Err(); err != nil {
			return SearchResult{}, err
		}
		q := (lo + hi + 1) / 2
		data, score, err := encode(ctx, q)
		if err != nil {
			return SearchResult{}, err
		}
		n++

		cur := &SearchResult{Quality: q, Data: data, Score: score}
		if fallback == nil || score.SSIM > fallback.Score.SSIM {
			fallback = cur
		}
		if score.SSIM >= opts.Target {
			met = cur
			hi = q - 1
		} else {
			lo = q + 1
		}
	}

	if met != nil {
		met.Attempts = n
		met.Met = true
		return *met, nil
	}
	fallback.Attempts = n
	return *fallback, nil
}
