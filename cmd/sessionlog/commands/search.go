package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sessionlog-ai/sessionlog/internal/store"
)

var (
	searchSession string
	searchType    string
	searchLimit   int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over event content",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchSession, "session", "", "Limit to one session")
	searchCmd.Flags().StringVar(&searchType, "type", "", "Event type glob, e.g. 'message.*'")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum hits")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	query := args[0]
	for _, extra := range args[1:] {
		query += " " + extra
	}

	hits, err := st.SearchContent(query, store.SearchFilters{
		SessionID: searchSession,
		TypeGlob:  searchType,
		Limit:     searchLimit,
	})
	if err != nil {
		return err
	}

	if len(hits) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	for _, h := range hits {
		fmt.Printf("%s  %s  seq %d\n  %s\n", h.SessionID, h.EventID, h.Sequence, h.Snippet)
	}
	return nil
}
