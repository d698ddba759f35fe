package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/contentmirror/internal/config"
	"github.com/agentworkforce/contentmirror/internal/frontmatter"
)

var errInvalidTree = errors.New("mirrored tree has invalid documents")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every mirrored document parses and points at its record",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		report, err := verifyTree(cfg)
		if err != nil {
			return err
		}
		report.print(cmd.OutOrStdout())
		if len(report.Problems) > 0 {
			return fmt.Errorf("%w: %d problem(s)", errInvalidTree, len(report.Problems))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

type verifyReport struct {
	Documents map[string]int
	Problems  []string
}

func (r verifyReport) print(out io.Writer) {
	kinds := make([]string, 0, len(r.Documents))
	for kind := range r.Documents {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(out, "%s: %d\n", kind, r.Documents[kind])
	}
	for _, problem := range r.Problems {
		fmt.Fprintf(out, "problem: %s\n", problem)
	}
}

// verifyTree parses every generated document under each mapping. Full
// documents must name the mapping's collection and the id of the directory
// they live in.
func verifyTree(cfg *config.RunConfig) (verifyReport, error) {
	report := verifyReport{Documents: map[string]int{}}
	for _, m := range cfg.Mappings {
		entries, err := os.ReadDir(m.Path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return report, err
		}
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			dir := filepath.Join(m.Path, entry.Name())
			docs, err := filepath.Glob(filepath.Join(dir, m.Filename+"*.md"))
			if err != nil {
				return report, err
			}
			if len(docs) == 0 {
				report.Problems = append(report.Problems, fmt.Sprintf("%s: no %s document", dir, m.Filename))
				continue
			}
			for _, path := range docs {
				if problem := verifyDocument(path, entry.Name(), m); problem != "" {
					report.Problems = append(report.Problems, problem)
					continue
				}
				report.Documents[m.Collection]++
			}
		}
	}
	return report, nil
}

func verifyDocument(path, recordID string, m config.MappingConfig) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("%s: %v", path, err)
	}
	header, _, err := frontmatter.Parse(data)
	if err != nil {
		return fmt.Sprintf("%s: %v", path, err)
	}
	switch header.Kind() {
	case frontmatter.KindRedirect:
		return ""
	case frontmatter.KindFull:
	default:
		return fmt.Sprintf("%s: header names neither a record nor a redirect", path)
	}
	var collection, id string
	if header.Directus != nil {
		collection, id = header.Directus.Collection, header.Directus.ID
	} else {
		collection, id = header.Flex[0].Collection, header.Flex[0].ID
	}
	if collection != m.Collection || id != recordID {
		return fmt.Sprintf("%s: points at %s/%s, want %s/%s", path, collection, id, m.Collection, recordID)
	}
	if m.Frontmatter.Slug != "" && strings.TrimSpace(header.Slug) == "" {
		return fmt.Sprintf("%s: empty slug", path)
	}
	return ""
}
