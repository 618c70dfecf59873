package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/ingestd/pkg/cli/config"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/service/document"
	"github.com/urfave/cli/v3"
)

func cmdExtract() *cli.Command {
	var rawURL string
	var text string
	var filePath string
	var catalogPath bool
	var ingestCfg config.Ingest
	var geminiCfg config.Gemini
	var renderCfg config.Render

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "url",
			Usage:       "Extract text from a web page, PDF or image URL",
			Destination: &rawURL,
		},
		&cli.StringFlag{
			Name:        "text",
			Usage:       "Normalize inline text",
			Destination: &text,
		},
		&cli.StringFlag{
			Name:        "file",
			Usage:       "Read inline text from a local file",
			Destination: &filePath,
		},
		&cli.BoolFlag{
			Name:        "catalog",
			Usage:       "Use catalog ceilings and follow-up links instead of the knowledge path",
			Destination: &catalogPath,
		},
	}
	flags = append(flags, ingestCfg.Flags()...)
	flags = append(flags, geminiCfg.Flags()...)
	flags = append(flags, renderCfg.Flags()...)

	return &cli.Command{
		Name:    "extract",
		Aliases: []string{"x"},
		Usage:   "Run text extraction for one source and print the result",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			src, err := extractSource(rawURL, text, filePath)
			if err != nil {
				return err
			}

			cfg, err := ingestCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to load ingest configuration")
			}

			extractor, err := newExtractor(ctx, cfg, extractorDeps{
				geminiCfg: &geminiCfg,
				renderCfg: &renderCfg,
			})
			if err != nil {
				return err
			}

			p := document.PathKnowledge
			if catalogPath {
				p = document.PathCatalog
			}

			res, err := extractor.Extract(ctx, src, p)
			if err != nil {
				printFailure(os.Stderr, err)
				return err
			}
			printResult(os.Stdout, res)
			return nil
		},
	}
}

// extractSource requires exactly one of url, text or file
func extractSource(rawURL, text, filePath string) (model.Source, error) {
	set := 0
	for _, v := range []string{rawURL, text, filePath} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return model.Source{}, goerr.New("exactly one of --url, --text or --file is required")
	}

	switch {
	case rawURL != "":
		return model.NewURLSource(rawURL), nil
	case filePath != "":
		// #nosec G304 - path is provided by CLI argument
		data, err := os.ReadFile(filePath)
		if err != nil {
			return model.Source{}, goerr.Wrap(err, "failed to read file", goerr.V("path", filePath))
		}
		return model.NewTextSource(string(data)), nil
	default:
		return model.NewTextSource(text), nil
	}
}

func printResult(w io.Writer, res *document.Result) {
	label := color.New(color.FgCyan, color.Bold)

	label.Fprint(w, "method: ")
	fmt.Fprintln(w, res.Method)
	label.Fprint(w, "mime:   ")
	fmt.Fprintln(w, res.MimeType)
	if res.PageCount > 0 {
		label.Fprint(w, "pages:  ")
		fmt.Fprintln(w, res.PageCount)
	}
	if res.Items > 0 {
		label.Fprint(w, "items:  ")
		fmt.Fprintln(w, res.Items)
	}
	label.Fprint(w, "chars:  ")
	fmt.Fprintln(w, len([]rune(res.Text)))

	if len(res.Links) > 0 {
		label.Fprintln(w, "links:")
		for _, l := range res.Links {
			fmt.Fprintf(w, "  %s %s %s\n",
				color.YellowString("%3d", l.Score),
				color.GreenString("%-5s", l.Kind),
				l.URL)
		}
	}

	label.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintln(w, res.Text)
}

func printFailure(w io.Writer, err error) {
	f := model.FailureOf(err)
	color.New(color.FgRed, color.Bold).Fprintf(w, "%s", f.Code)
	fmt.Fprintf(w, ": %s\n", f.Message)
}
