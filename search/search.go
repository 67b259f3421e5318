package search

import (
	"path/filepath"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
)

// trawl is the same internal recursive walk the teacher uses in its GSF
// search: list a URI's entries through a TileDB VFS handle (so it works
// identically against a local filesystem or an object store), keep the
// files whose basename matches pattern, then recurse into every directory.
func trawl(vfs *tiledb.VFS, pattern string, uri string, items []string) []string {
	dirs, files, err := vfs.List(uri)
	if err != nil {
		panic(err)
	}

	for _, file := range files {
		match, err := filepath.Match(pattern, filepath.Base(file))
		if err != nil {
			panic(err)
		}

		if match {
			items = append(items, file)
		}
	}

	for _, dir := range dirs {
		items = trawl(vfs, pattern, dir, items)
	}

	return items
}

// imagePatterns lists the basename globs run-batch accepts. FITS and its
// compressed variants are the common astronomical image container formats;
// the raw TileDB array form lets a batch re-run over a previously ingested
// detection run without re-decoding anything.
var imagePatterns = []string{"*.fits", "*.fits.gz", "*.fits.fz", "*.tiledb"}

// FindImages recursively searches uri for image files run-batch can process.
// config_uri optionally points at a TileDB config for object-store access;
// an empty string uses a generic config, same as the teacher's FindGsf.
func FindImages(uri string, config_uri string) []string {
	var (
		config *tiledb.Config
		err    error
	)

	if config_uri == "" {
		config, err = tiledb.NewConfig()
		if err != nil {
			panic(err)
		}
	} else {
		config, err = tiledb.LoadConfig(config_uri)
		if err != nil {
			panic(err)
		}
	}
	defer config.Free()

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		panic(err)
	}
	defer ctx.Free()

	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		panic(err)
	}
	defer vfs.Free()

	items := make([]string, 0)
	for _, pattern := range imagePatterns {
		items = trawl(vfs, pattern, uri, items)
	}

	return items
}
