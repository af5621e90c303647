package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the ingested corpus",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	if err := app.buildEngine(); err != nil {
		return err
	}

	answer, err := app.Service.Answer(ctx, args[0])
	if err != nil {
		return err
	}

	s := newStyles(os.Stdout, globalFlags.JSON)
	if globalFlags.JSON {
		return json.NewEncoder(os.Stdout).Encode(answer)
	}

	fmt.Println(answer.Text)
	if globalFlags.Quiet {
		return nil
	}

	fmt.Println()
	if len(answer.Sources) > 0 {
		fmt.Println(s.sectionHeader("Sources"))
		for i, src := range answer.Sources {
			fmt.Printf("  [%d] %s page %d (score %.2f)\n", i+1, src.Fingerprint[:12], src.Page, src.Score)
		}
	}
	fmt.Println(s.dim(fmt.Sprintf("confidence %.2f  request %s", answer.Confidence, answer.RequestID)))
	if !answer.Grounded {
		fmt.Println(s.warn("no grounding found in the corpus"))
	}
	return nil
}
