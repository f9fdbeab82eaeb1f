package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rendis/influencer/internal/expressions"
)

// writeJSON prints v as indented JSON, or, when filter is set, every result
// of the jq filter applied to it. String results print raw.
func writeJSON(ctx context.Context, w io.Writer, v any, filter string) error {
	if filter == "" {
		return encodeIndented(w, v)
	}
	results, err := expressions.NewGoJQEngine().Query(ctx, filter, v)
	if err != nil {
		return err
	}
	for _, r := range results {
		if s, ok := r.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		if err := encodeIndented(w, r); err != nil {
			return err
		}
	}
	return nil
}

func encodeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
