// Package knowledge is a SQLite-backed store of context snippets. The
// decomposition pipeline queries it for fragments relevant to an inbound
// request; results are purely advisory.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dbhq-uk/cortex/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS knowledge_snippets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	content TEXT NOT NULL,
	keywords TEXT NOT NULL,
	added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store holds snippets in the shared ledger database. It satisfies
// pipeline.ContextProvider.
type Store struct {
	db *sql.DB
}

// New creates the store over an open database handle and applies the schema.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply knowledge schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Add stores one snippet. Keywords are matched case-insensitively by Query.
func (s *Store) Add(ctx context.Context, source, content string, keywords []string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("snippet content is empty")
	}
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			normalized = append(normalized, k)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_snippets (source, content, keywords, added_at) VALUES (?, ?, ?, ?)`,
		source, content, strings.Join(normalized, " "), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store snippet: %w", err)
	}
	return nil
}

// Query returns the snippets whose keyword sets overlap the query, scored by
// overlap count and capped at MaxResults.
func (s *Store) Query(ctx context.Context, q pipeline.ContextQuery) ([]pipeline.Snippet, error) {
	if len(q.Keywords) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT source, content, keywords FROM knowledge_snippets`)
	if err != nil {
		return nil, fmt.Errorf("query snippets: %w", err)
	}
	defer rows.Close()

	want := make(map[string]struct{}, len(q.Keywords))
	for _, k := range q.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			want[k] = struct{}{}
		}
	}

	var out []pipeline.Snippet
	for rows.Next() {
		var source, content, keywords string
		if err := rows.Scan(&source, &content, &keywords); err != nil {
			return nil, err
		}
		var hits int
		for _, k := range strings.Fields(keywords) {
			if _, ok := want[k]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, pipeline.Snippet{Source: source, Content: content, Score: float64(hits)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.MaxResults > 0 && len(out) > q.MaxResults {
		out = out[:q.MaxResults]
	}
	return out, nil
}
