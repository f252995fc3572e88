package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// ScanFolder lists the regular files directly inside folder whose lowercase
// extension is in exts, sorted by name. Hidden files are skipped.
func ScanFolder(folder string, exts []string) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, amerrors.NotFound(folder, err).WithSuggestion("Check the folder path")
		}
		return nil, fmt.Errorf("stat folder %s: %w", folder, err)
	}
	if !info.IsDir() {
		return nil, amerrors.ValidationError("not a directory: "+folder, nil)
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read folder %s: %w", folder, err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !e.Type().IsRegular() {
			continue
		}
		if slices.Contains(exts, strings.ToLower(filepath.Ext(name))) {
			files = append(files, name)
		}
	}
	if len(files) == 0 {
		return nil, amerrors.New(amerrors.ErrCodeNoSupportedFiles,
			"no supported files found in "+folder, nil).
			WithSuggestion("Supported extensions: " + strings.Join(exts, " "))
	}
	return files, nil
}
