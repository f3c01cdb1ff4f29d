package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/guard"
	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/sqlguard"
)

// schemaPreamble tells the SQL generator what it may query. The tenant
// placeholder is substituted by the guard with the caller's real tenant id,
// so the model never sees one.
const schemaPreamble = `You write PostgreSQL for a chat analytics database.

Tables:
  messages(id, tenant_id, channel_id, author_id, content, created_at, deleted)
  channels(id, tenant_id, name, is_indexed)
  members(id, display_name)
  sessions(id, tenant_id, channel_id, started_at, ended_at)

Rules:
- One SELECT statement only. No comments, no explanations, no markdown fences.
- Always include the predicate tenant_id = {tenant_id}.
- Exclude soft-deleted rows: deleted = FALSE on messages.
- Cap output with LIMIT 50 unless the question asks for a single value.`

// answerAnalytics generates SQL, validates it, runs it read-only, and
// formats the rows.
func (s *Service) answerAnalytics(ctx context.Context, req Request, query string) (string, []Source) {
	raw, err := s.llm.Generate(ctx, llm.Request{
		System:      schemaPreamble,
		Prompt:      guard.SafePrompt(query),
		MaxTokens:   400,
		Temperature: 0,
	})
	if err != nil {
		s.logger.Warn(ctx, "sql generation failed", zap.Error(err))
		return answerUnavailable, nil
	}

	sql, err := sqlguard.Validate(stripFences(raw), req.TenantID)
	if err != nil {
		s.logger.Warn(ctx, "generated sql rejected",
			zap.Error(err), zap.Int64("tenant_id", req.TenantID))
		return "I couldn't turn that into a safe database query. Try rephrasing the question.", nil
	}

	cols, rows, err := s.store.AnalyticsQuery(ctx, sql)
	if err != nil {
		s.logger.Warn(ctx, "analytics query failed", zap.Error(err))
		return answerUnavailable, nil
	}
	return formatRows(cols, rows), nil
}

// formatRows renders query output: a single cell as a bold label/value
// pair, anything larger as an enumerated list.
func formatRows(cols []string, rows [][]any) string {
	if len(rows) == 0 {
		return "No matching data found."
	}
	if len(rows) == 1 && len(cols) == 1 {
		return fmt.Sprintf("**%s**: %v", humanizeColumn(cols[0]), rows[0][0])
	}

	var b strings.Builder
	for i, row := range rows {
		fmt.Fprintf(&b, "%d. ", i+1)
		for j, cell := range row {
			if j > 0 {
				b.WriteString(" — ")
			}
			if len(cols) > 1 {
				fmt.Fprintf(&b, "%s: %v", humanizeColumn(cols[j]), cell)
			} else {
				fmt.Fprintf(&b, "%v", cell)
			}
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func humanizeColumn(col string) string {
	col = strings.ReplaceAll(col, "_", " ")
	if col == "" {
		return col
	}
	return strings.ToUpper(col[:1]) + col[1:]
}

// stripFences removes a surrounding markdown code fence, which models emit
// despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
