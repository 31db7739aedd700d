package store

import (
	"encoding/json"

	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

// TreeOptions bound a tree visualization.
type TreeOptions struct {
	MaxDepth     int
	MessagesOnly bool
}

// GetTreeVisualization builds the session's event tree rooted at its root
// event, including any forked descendants in other sessions.
func (s *Store) GetTreeVisualization(sessionID string, opts TreeOptions) (*types.TreeNode, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.RootEventID == "" {
		return nil, nil
	}
	root, err := s.GetEvent(sess.RootEventID)
	if err != nil {
		return nil, err
	}
	events, err := s.GetDescendants(sess.RootEventID, opts.MaxDepth)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]*types.Event, len(events))
	for _, ev := range events {
		children[ev.ParentID] = append(children[ev.ParentID], ev)
	}
	return buildNode(root, children, opts), nil
}

func buildNode(ev *types.Event, children map[string][]*types.Event, opts TreeOptions) *types.TreeNode {
	node := &types.TreeNode{
		EventID:  ev.ID,
		Type:     ev.Type,
		Sequence: ev.Sequence,
		Preview:  eventPreview(ev),
	}
	for _, child := range children[ev.ID] {
		cn := buildNode(child, children, opts)
		if opts.MessagesOnly && !isMessageType(child.Type) {
			// Lift grandchildren so message-only trees stay connected.
			node.Children = append(node.Children, cn.Children...)
			continue
		}
		node.Children = append(node.Children, cn)
	}
	return node
}

func isMessageType(t types.EventType) bool {
	switch t {
	case types.EventMessageUser, types.EventMessageAssistant, types.EventMessageSystem:
		return true
	}
	return false
}

const previewLen = 80

// eventPreview extracts a short single-line preview for tree display.
func eventPreview(ev *types.Event) string {
	var text string
	switch ev.Type {
	case types.EventMessageUser, types.EventMessageAssistant, types.EventMessageSystem:
		var p struct {
			Content []types.ContentBlock `json:"content"`
		}
		if json.Unmarshal(ev.Payload, &p) == nil {
			for _, b := range p.Content {
				if b.Type == "text" && b.Text != "" {
					text = b.Text
					break
				}
			}
		}
	case types.EventToolCall:
		var p types.ToolCallPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			text = p.Name
		}
	case types.EventCompactBoundary:
		var p types.CompactBoundaryPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			text = p.Summary
		}
	}
	for i, r := range text {
		if r == '\n' {
			text = text[:i]
			break
		}
	}
	if runes := []rune(text); len(runes) > previewLen {
		text = string(runes[:previewLen])
	}
	return text
}
