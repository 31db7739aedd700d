package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// CreateBranch records a named pointer into a session's event tree and
// appends the session.branch marker event.
func (s *Store) CreateBranch(sessionID, name, rootEventID, headEventID string) (*types.Branch, error) {
	if _, err := s.GetEvent(rootEventID); err != nil {
		return nil, err
	}
	if headEventID == "" {
		headEventID = rootEventID
	}
	b := &types.Branch{
		ID:          NewBranchID(),
		SessionID:   sessionID,
		Name:        name,
		RootEventID: rootEventID,
		HeadEventID: headEventID,
		CreatedAt:   now(),
	}
	if _, err := s.db.Exec(`
INSERT INTO branches (id, session_id, name, root_event_id, head_event_id, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.SessionID, b.Name, b.RootEventID, b.HeadEventID,
		b.CreatedAt.Format(timeLayout),
	); err != nil {
		return nil, fmt.Errorf("insert branch: %w", err)
	}
	if _, err := s.Append(sessionID, types.EventSessionBranch, map[string]string{
		"branchId": b.ID,
		"name":     name,
	}, nil); err != nil {
		return nil, err
	}
	return b, nil
}

// GetBranches returns a session's named branches, oldest first.
func (s *Store) GetBranches(sessionID string) ([]*types.Branch, error) {
	rows, err := s.db.Query(`
SELECT id, session_id, name, root_event_id, head_event_id, created_at
FROM branches WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := []*types.Branch{}
	for rows.Next() {
		var b types.Branch
		var created string
		if err := rows.Scan(&b.ID, &b.SessionID, &b.Name, &b.RootEventID, &b.HeadEventID, &created); err != nil {
			return nil, err
		}
		b.CreatedAt, _ = time.Parse(timeLayout, created)
		branches = append(branches, &b)
	}
	return branches, rows.Err()
}

// UpdateBranchHead moves a branch pointer.
func (s *Store) UpdateBranchHead(branchID, headEventID string) error {
	if _, err := s.GetEvent(headEventID); err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE branches SET head_event_id = ? WHERE id = ?`, headEventID, branchID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("branch %s: %w", branchID, ErrNotFound)
	}
	return nil
}

// GetBranch returns one branch by id.
func (s *Store) GetBranch(branchID string) (*types.Branch, error) {
	var b types.Branch
	var created string
	err := s.db.QueryRow(`
SELECT id, session_id, name, root_event_id, head_event_id, created_at
FROM branches WHERE id = ?`, branchID).
		Scan(&b.ID, &b.SessionID, &b.Name, &b.RootEventID, &b.HeadEventID, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("branch %s: %w", branchID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	b.CreatedAt, _ = time.Parse(timeLayout, created)
	return &b, nil
}
