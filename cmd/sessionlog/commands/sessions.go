package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sessionlog-ai/sessionlog/internal/store"
	"github.com/sessionlog-ai/sessionlog/pkg/types"
)

var (
	sessionsArchived bool
	treeMessagesOnly bool
	treeMaxDepth     int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	RunE:  runSessions,
}

var treeCmd = &cobra.Command{
	Use:   "tree <session-id>",
	Short: "Print a session's event tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runTree,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsArchived, "archived", false, "Include archived sessions")
	sessionsCmd.AddCommand(treeCmd)
	treeCmd.Flags().BoolVar(&treeMessagesOnly, "messages-only", false, "Show only message events")
	treeCmd.Flags().IntVar(&treeMaxDepth, "max-depth", 0, "Limit tree depth (0 = unlimited)")
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.ListSessions(sessionsArchived)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		flags := ""
		if s.Archived {
			flags = " [archived]"
		}
		fmt.Printf("%s  %-30s  %4d events  %s%s\n",
			s.ID, title, s.EventCount, s.UpdatedAt.Format("2006-01-02 15:04"), flags)
	}
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	root, err := st.GetTreeVisualization(args[0], store.TreeOptions{
		MaxDepth:     treeMaxDepth,
		MessagesOnly: treeMessagesOnly,
	})
	if err != nil {
		return err
	}

	printTree(root, 0)
	return nil
}

func printTree(n *types.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	line := fmt.Sprintf("%s%s [%d] %s", indent, n.Type, n.Sequence, n.EventID)
	if n.Preview != "" {
		line += "  " + n.Preview
	}
	fmt.Println(line)
	for _, child := range n.Children {
		printTree(child, depth+1)
	}
}
