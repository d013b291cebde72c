package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"musictransfer/internal/model"
	"musictransfer/pkg/utils"
)

// WriteFile stores data produced in memory under the same naming convention
// as a download: written to "<name><ext>.download" in root, then renamed.
func WriteFile(root string, kind Kind, md model.Metadata, data []byte) (Result, error) {
	if err := utils.EnsureDir(root); err != nil {
		return Result{}, err
	}

	final := filepath.Join(root, utils.SanitizeName(md.SongName)+kind.Extension(md))
	partial := final + SuffixDownload

	if err := os.WriteFile(partial, data, 0644); err != nil {
		_ = utils.DeleteFile(partial)
		return Result{}, fmt.Errorf("failed to write %s: %w", partial, err)
	}
	if err := utils.RenameFile(partial, final); err != nil {
		_ = utils.DeleteFile(partial)
		return Result{}, err
	}
	return describe(final), nil
}
