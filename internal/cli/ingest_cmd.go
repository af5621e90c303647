package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docrag/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest documents into the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	if err := app.buildEngine(); err != nil {
		return err
	}

	s := newStyles(os.Stdout, globalFlags.JSON)
	hadFatal := false

	for _, path := range args {
		raw, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, s.errPrefix(), err.Error())
			hadFatal = true
			continue
		}

		res, err := app.Pipeline.Ingest(ctx, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %s: %s\n", s.errPrefix(), path, err.Error())
			hadFatal = true
			continue
		}
		printIngestResult(s, path, res)
	}

	if hadFatal {
		// Returned, not os.Exit'd, so the deferred Close runs.
		return &exitCodeError{code: ExitIngestFatal, msg: "one or more documents failed to ingest"}
	}
	return nil
}

func printIngestResult(s styles, path string, res model.IngestResult) {
	if globalFlags.JSON {
		out := struct {
			Path string `json:"path"`
			model.IngestResult
		}{Path: path, IngestResult: res}
		_ = json.NewEncoder(os.Stdout).Encode(out)
		return
	}
	if globalFlags.Quiet {
		return
	}

	switch res.Status {
	case model.StatusAlreadyPresent:
		fmt.Println(s.dim(fmt.Sprintf("%s already ingested (%s)", path, res.Fingerprint[:12])))
	case model.StatusPartial:
		fmt.Println(s.warn(fmt.Sprintf("%s partially ingested", path)))
		fmt.Println(s.kv("Fingerprint", res.Fingerprint[:12]))
		fmt.Println(s.kv("Chunks", fmt.Sprintf("%d ingested, %d failed", res.ChunksIngested, res.ChunksFailed)))
		if res.PagesSkipped > 0 {
			fmt.Println(s.kv("Pages skipped", fmt.Sprintf("%d", res.PagesSkipped)))
		}
		for _, f := range res.Failures {
			fmt.Println(s.dim(fmt.Sprintf("    %s [%s] %s", f.ChunkID[:12], f.Stage, f.Reason)))
		}
	default:
		fmt.Println(s.ok(fmt.Sprintf("%s ingested", path)))
		fmt.Println(s.kv("Fingerprint", res.Fingerprint[:12]))
		fmt.Println(s.kv("Chunks", fmt.Sprintf("%d", res.ChunksIngested)))
	}
}
