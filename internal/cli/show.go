package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fx-alerts/internal/app"
)

var (
	showLimit    int
	showArticles bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent quote snapshots or seen articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Articles: showArticles,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showArticles, "articles", false, "Show seen articles instead of quote snapshots")
}
