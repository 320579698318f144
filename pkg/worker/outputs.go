package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rhea-ai/rhea/pkg/artifact"
	"github.com/rhea-ai/rhea/pkg/template"
)

// discoverOutputs registers produced artifacts into the object store.
// Collection discovery runs only when the descriptor declares no data
// outputs.
func (w *Worker) discoverOutputs(ctx context.Context, result *Result, env template.Env, outputDir string) error {
	if len(w.tool.Outputs.Data) > 0 {
		return w.discoverDataOutputs(ctx, result, env)
	}
	if len(w.tool.Outputs.Collection) > 0 {
		result.Collections = w.tool.Outputs.Collection
		return w.discoverCollectionOutputs(ctx, result, outputDir)
	}
	return nil
}

// discoverDataOutputs packages each declared data output carrying a
// from-work-dir. Outputs declaring filters are packaged best-effort: a
// missing or unreadable file is dropped, not an error.
func (w *Worker) discoverDataOutputs(ctx context.Context, result *Result, env template.Env) error {
	for _, out := range w.tool.Outputs.Data {
		if out.FromWorkDir == "" {
			continue
		}
		value, ok := env.Lookup(out.Name)
		if !ok {
			continue
		}
		path := value.Render()

		proxy, err := artifact.FromLocal(path)
		if err != nil {
			if len(out.Filters) > 0 {
				slog.Debug("filtered output missing, dropping", "tool_id", w.tool.ID, "output", out.Name, "path", path)
				continue
			}
			return fmt.Errorf("worker: package output %s: %w", out.Name, err)
		}

		handle, err := proxy.ToStore(ctx, w.store)
		if err != nil {
			return fmt.Errorf("worker: package output %s: %w", out.Name, err)
		}
		result.Files = append(result.Files, DataOutput{
			Handle:   handle,
			Size:     proxy.Size,
			Filename: proxy.Filename,
			Name:     out.Name,
			Format:   out.Format,
		})
	}
	return nil
}

// discoverCollectionOutputs resolves list collections by matching discovered
// files against the declared pattern. Capture group 1, when present, names
// the artifact.
func (w *Worker) discoverCollectionOutputs(ctx context.Context, result *Result, outputDir string) error {
	for _, collection := range w.tool.Outputs.Collection {
		if collection.Type != "list" {
			return fmt.Errorf("worker: collection output type %q not supported", collection.Type)
		}
		dd := collection.DiscoverDatasets
		if dd == nil || dd.Pattern == "" {
			return fmt.Errorf("worker: collection %s declares no discovery pattern", collection.Name)
		}

		// Descriptor patterns arrive with doubled escapes.
		rgx, err := regexp.Compile(strings.ReplaceAll(dd.Pattern, `\\`, `\`))
		if err != nil {
			return fmt.Errorf("worker: collection %s: bad pattern: %w", collection.Name, err)
		}

		searchPath := outputDir
		if dd.Directory != "" {
			searchPath = filepath.Join(outputDir, dd.Directory)
		}

		files, err := listFiles(searchPath, dd.Recurse)
		if err != nil {
			return fmt.Errorf("worker: collection %s: %w", collection.Name, err)
		}

		for _, file := range files {
			base := filepath.Base(file)
			m := rgx.FindStringSubmatch(base)
			if m == nil {
				continue
			}
			name := ""
			if len(m) > 1 {
				name = m[1]
			}

			proxy, err := artifact.FromLocal(file)
			if err != nil {
				return fmt.Errorf("worker: package discovered %s: %w", base, err)
			}
			handle, err := proxy.ToStore(ctx, w.store)
			if err != nil {
				return fmt.Errorf("worker: package discovered %s: %w", base, err)
			}
			result.Files = append(result.Files, DataOutput{
				Handle:   handle,
				Size:     proxy.Size,
				Filename: proxy.Filename,
				Name:     name,
				Format:   dd.Ext,
			})
		}
	}
	return nil
}

// listFiles enumerates regular files under dir, optionally recursing.
// A missing directory yields no files: the tool simply produced nothing.
func listFiles(dir string, recurse bool) ([]string, error) {
	var files []string
	if recurse {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			if isNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		return files, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
