package recordstore

import (
	"context"
	"fmt"

	"github.com/maxpert/credmirror/record"
)

// UpsertResult describes what Upsert did.
type UpsertResult struct {
	Added     bool
	Updated   bool
	Unchanged bool
	Removed   int // extra key matches deleted instead of being left as duplicates
}

// Upsert writes r with the record store's modify semantics: the first record
// sharing r's key is replaced by r, every further match is removed, and r is
// added when nothing matches.
func Upsert(ctx context.Context, s Store, r record.Record) (UpsertResult, error) {
	var res UpsertResult

	if err := r.Validate(); err != nil {
		return res, err
	}

	matches, err := s.Find(ctx, r.Key())
	if err != nil {
		return res, fmt.Errorf("failed to find records for %s: %w", r.Origin, err)
	}

	if len(matches) == 0 {
		if err := s.Add(ctx, r); err != nil {
			return res, err
		}
		res.Added = true
		return res, nil
	}

	first := matches[0]
	if record.Matches(first, r) {
		res.Unchanged = true
	} else {
		if err := s.Modify(ctx, first, r); err != nil {
			return res, err
		}
		res.Updated = true
	}

	for _, extra := range matches[1:] {
		if err := s.Remove(ctx, extra); err != nil {
			return res, err
		}
		res.Removed++
	}

	return res, nil
}

// RemoveMatching deletes every record sharing r's key and returns how many
// were removed.
func RemoveMatching(ctx context.Context, s Store, r record.Record) (int, error) {
	matches, err := s.Find(ctx, r.Key())
	if err != nil {
		return 0, fmt.Errorf("failed to find records for %s: %w", r.Origin, err)
	}

	removed := 0
	for _, m := range matches {
		if err := s.Remove(ctx, m); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
