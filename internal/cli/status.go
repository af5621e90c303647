package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus statistics",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	stats, err := app.Store.Stats(ctx)
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}

	s := newStyles(os.Stdout, false)
	fmt.Println(s.sectionHeader("Corpus"))
	fmt.Println(s.kv("Documents", fmt.Sprintf("%d", stats.Documents)))
	fmt.Println(s.kv("Text records", fmt.Sprintf("%d", stats.TextRecords)))
	fmt.Println(s.kv("Image records", fmt.Sprintf("%d", stats.ImageRecords)))
	fmt.Println(s.kv("State dir", app.Config.StateDir))
	return nil
}
