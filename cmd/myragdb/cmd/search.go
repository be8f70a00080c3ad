package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit       int
	mode        string
	minScore    float64
	sources     []string
	repos       []string
	folder      string
	extensions  []string
	language    string
	contentType string
	format      string
	noRewrite   bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed sources",
		Long: `Run a hybrid query over the keyword and vector indexes, fused
with reciprocal rank fusion.

Examples:
  myragdb search "authentication middleware"
  myragdb search "retry backoff" --mode keyword --limit 5
  myragdb search "how indexing works" --source docs --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			mode, err := parseMode(opts.mode)
			if err != nil {
				return err
			}

			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			searchOpts := search.Options{
				Limit:          opts.limit,
				Mode:           mode,
				MinScore:       opts.minScore,
				Repositories:   opts.repos,
				Extensions:     opts.extensions,
				DisableRewrite: opts.noRewrite,
			}
			if opts.folder != "" {
				searchOpts.FolderNames = []string{opts.folder}
			}
			if opts.language != "" {
				searchOpts.Languages = []string{opts.language}
			}
			if opts.contentType != "" {
				searchOpts.ContentTypes = []string{opts.contentType}
			}

			hits, err := svc.Search(cmd.Context(), query, searchOpts, opts.sources)
			if err != nil {
				return err
			}
			return printResults(cmd, hits, opts.format)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum results (default 20)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, keyword, semantic")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", 0, "Drop results scoring below this")
	cmd.Flags().StringSliceVarP(&opts.sources, "source", "s", nil, "Restrict to named sources (repeatable)")
	cmd.Flags().StringSliceVar(&opts.repos, "repo", nil, "Restrict to repository sources by name (repeatable)")
	cmd.Flags().StringVar(&opts.folder, "folder", "", "Filter by immediate parent directory name")
	cmd.Flags().StringSliceVarP(&opts.extensions, "ext", "e", nil, "Filter by file extension, e.g. go, md (repeatable)")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g. go, python)")
	cmd.Flags().StringVarP(&opts.contentType, "type", "t", "", "Filter by type: code, markdown, text, config")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.noRewrite, "no-rewrite", false, "Skip the LLM query rewrite")

	return cmd
}

func parseMode(raw string) (search.Mode, error) {
	switch raw {
	case "", "hybrid":
		return search.ModeHybrid, nil
	case "keyword":
		return search.ModeKeyword, nil
	case "semantic":
		return search.ModeSemantic, nil
	default:
		return "", ragerr.New(ragerr.ErrCodeInvalidQuery,
			fmt.Sprintf("unknown search mode %q", raw), nil).
			WithSuggestion("use hybrid, keyword, or semantic")
	}
}

func printResults(cmd *cobra.Command, hits []*search.Result, format string) error {
	out := cmd.OutOrStdout()

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}

	for i, hit := range hits {
		fmt.Fprintf(out, "%2d. %s  (score %.3f", i+1, hit.Path, hit.Score)
		if hit.InBoth {
			fmt.Fprint(out, ", both backends")
		}
		fmt.Fprintln(out, ")")
		if hit.Snippet != "" {
			fmt.Fprintf(out, "    %s\n", strings.ReplaceAll(hit.Snippet, "\n", " "))
		}
	}
	return nil
}
