package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm [fingerprint...]",
	Short: "Remove ingested documents and their records",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	s := newStyles(os.Stdout, globalFlags.JSON)
	for _, fingerprint := range args {
		fingerprint = strings.TrimSpace(strings.ToLower(fingerprint))
		if len(fingerprint) != 64 {
			fmt.Fprintf(os.Stderr, "%s %q is not a full document fingerprint\n", s.errPrefix(), fingerprint)
			return &exitCodeError{code: ExitGenericError, msg: "invalid fingerprint"}
		}
		if err := app.Store.DeleteDocument(ctx, fingerprint); err != nil {
			return err
		}
		if !globalFlags.Quiet && !globalFlags.JSON {
			fmt.Println(s.ok(fmt.Sprintf("removed %s", fingerprint[:12])))
		}
	}
	return nil
}
