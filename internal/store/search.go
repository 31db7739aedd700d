package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// SearchFilters narrow a full-text query.
type SearchFilters struct {
	SessionID string
	// TypeGlob filters hits by event type, e.g. "message.*" or "tool.*".
	TypeGlob string
	Limit    int
}

// SearchContent runs a ranked FTS5 query over indexed event content.
func (s *Store) SearchContent(query string, filters SearchFilters) ([]*types.SearchHit, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []*types.SearchHit{}, nil
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	sqlQ := `
SELECT f.event_id, f.session_id, f.type,
	snippet(events_fts, 0, '[', ']', '...', 12),
	e.sequence, e.timestamp
FROM events_fts f
JOIN events e ON e.id = f.event_id
WHERE events_fts MATCH ?`
	args := []any{ftsQuery(q)}
	if filters.SessionID != "" {
		sqlQ += ` AND f.session_id = ?`
		args = append(args, filters.SessionID)
	}
	sqlQ += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(sqlQ, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	hits := []*types.SearchHit{}
	for rows.Next() {
		var h types.SearchHit
		var ts string
		if err := rows.Scan(&h.EventID, &h.SessionID, &h.Type, &h.Snippet, &h.Sequence, &ts); err != nil {
			return nil, err
		}
		if filters.TypeGlob != "" {
			ok, err := doublestar.Match(filters.TypeGlob, string(h.Type))
			if err != nil {
				return nil, fmt.Errorf("type glob %q: %w", filters.TypeGlob, err)
			}
			if !ok {
				continue
			}
		}
		h.Timestamp, _ = time.Parse(timeLayout, ts)
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}

// SearchInSession is SearchContent scoped to one session.
func (s *Store) SearchInSession(sessionID, query string, limit int) ([]*types.SearchHit, error) {
	return s.SearchContent(query, SearchFilters{SessionID: sessionID, Limit: limit})
}

// ftsQuery quotes each term so user input cannot inject FTS5 syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, `""`)
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " ")
}
