package linear

import (
	"context"
	"fmt"
	"strings"
)

// ArchiveBatch archives issues with aliased mutations. When a combined
// request fails, items it did not accept are retried one request each. The
// result holds one success flag per input id.
func (r *Replicator) ArchiveBatch(ctx context.Context, issueIDs []string) []bool {
	return r.runBatch(ctx, "archive", len(issueIDs),
		func(start, end int) (string, map[string]interface{}) {
			return buildBatchArchive(issueIDs[start:end])
		},
		func(i int) bool {
			return r.Archive(ctx, issueIDs[i]) == nil
		},
	)
}

// CommentBatch posts comments with aliased mutations. When a combined request
// fails, comments it did not accept are retried one request each, so none is
// posted twice. Results follow input order.
func (r *Replicator) CommentBatch(ctx context.Context, inputs []CommentInput) []bool {
	return r.runBatch(ctx, "comment", len(inputs),
		func(start, end int) (string, map[string]interface{}) {
			return buildBatchComment(inputs[start:end])
		},
		func(i int) bool {
			return r.Comment(ctx, inputs[i]) == nil
		},
	)
}

func (r *Replicator) runBatch(
	ctx context.Context,
	op string,
	n int,
	build func(start, end int) (string, map[string]interface{}),
	single func(i int) bool,
) []bool {
	results := make([]bool, n)

	for start := 0; start < n; start += maxBatchSize {
		end := start + maxBatchSize
		if end > n {
			end = n
		}

		if end-start == 1 {
			results[start] = single(start)
			continue
		}

		query, vars := build(start, end)
		var resp map[string]successPayload
		err := r.api.Do(ctx, query, vars, &resp)
		if err != nil {
			accepted := 0
			for i := start; i < end; i++ {
				if resp[alias(i-start)].Success {
					accepted++
				}
			}
			r.logger.Warn().
				Err(err).
				Str("operation", op).
				Int("items", end-start).
				Int("accepted", accepted).
				Msg("Batched mutation failed, retrying rejected items individually")

			for i := start; i < end; i++ {
				if resp[alias(i-start)].Success {
					results[i] = true
					continue
				}
				if ctx.Err() != nil {
					break
				}
				results[i] = single(i)
			}
			continue
		}

		for i := start; i < end; i++ {
			results[i] = resp[alias(i-start)].Success
		}
	}

	return results
}

func alias(i int) string {
	return fmt.Sprintf("m%d", i)
}

func buildBatchArchive(ids []string) (string, map[string]interface{}) {
	var params, body strings.Builder
	vars := make(map[string]interface{}, len(ids))

	for i, id := range ids {
		name := fmt.Sprintf("id%d", i)
		if i > 0 {
			params.WriteString(", ")
		}
		fmt.Fprintf(&params, "$%s: String!", name)
		fmt.Fprintf(&body, "  %s: issueArchive(id: $%s) { success }\n", alias(i), name)
		vars[name] = id
	}

	return fmt.Sprintf("mutation BatchArchive(%s) {\n%s}", params.String(), body.String()), vars
}

func buildBatchComment(inputs []CommentInput) (string, map[string]interface{}) {
	var params, body strings.Builder
	vars := make(map[string]interface{}, len(inputs))

	for i, input := range inputs {
		name := fmt.Sprintf("c%d", i)
		if i > 0 {
			params.WriteString(", ")
		}
		fmt.Fprintf(&params, "$%s: CommentCreateInput!", name)
		fmt.Fprintf(&body, "  %s: commentCreate(input: $%s) { success }\n", alias(i), name)
		vars[name] = input.variables()
	}

	return fmt.Sprintf("mutation BatchComment(%s) {\n%s}", params.String(), body.String()), vars
}
