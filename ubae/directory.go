package ubae

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mickamy/tagvault/ubae/pathtag"
)

// ArchiveDir walks root and stores every regular file it contains as a
// UBAE entry tagged with its root-relative, forward-slash-normalized path.
// Files are streamed in, never buffered wholly in memory, grounded on
// original_source's ubae_directory_encoder.rs.
func ArchiveDir(d *Dict, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("ubae: archive_dir: walk %s: %w", path, err)
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("ubae: archive_dir: rel %s: %w", path, err)
		}
		tag := pathtag.Normalize(rel)

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("ubae: archive_dir: open %s: %w", path, err)
		}
		defer f.Close()

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("ubae: archive_dir: stat %s: %w", path, err)
		}

		if err := d.AddFromStream(tag, f, info.Size()); err != nil {
			return fmt.Errorf("ubae: archive_dir: add %s: %w", tag, err)
		}
		return nil
	})
}

// ExtractDir iterates every entry in d and writes it out under destRoot,
// recreating the directory structure implied by each tag.
func ExtractDir(d *Dict, destRoot string) error {
	it := d.Iterate()
	for {
		pair, ok, err := it.Next()
		if err != nil {
			return fmt.Errorf("ubae: extract_dir: %w", err)
		}
		if !ok {
			return nil
		}
		dest := filepath.Join(destRoot, filepath.FromSlash(pair.Tag))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("ubae: extract_dir: mkdir for %s: %w", pair.Tag, err)
		}
		out, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("ubae: extract_dir: create %s: %w", dest, err)
		}
		_, copyErr := io.CopyN(out, pair.Stream, pair.Length)
		closeErr := out.Close()
		if copyErr != nil {
			return fmt.Errorf("ubae: extract_dir: write %s: %w", dest, copyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("ubae: extract_dir: close %s: %w", dest, closeErr)
		}
	}
}
