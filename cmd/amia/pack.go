package main

import (
	"archive/zip"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/amia-bot/amia/internal/plugin"
)

// runPack builds a .plugin archive from a plugin source directory. The
// directory must contain a valid info.json and a main.lua entry file.
func runPack(args []string) int {
	flags := flag.NewFlagSet("pack", flag.ExitOnError)
	output := flags.String("o", "", "output archive path (default <id>.plugin)")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: amia pack [-o out.plugin] <plugin-dir>")
		flags.PrintDefaults()
	}
	_ = flags.Parse(args)

	if flags.NArg() != 1 {
		flags.Usage()
		return 2
	}
	dir := flags.Arg(0)

	manifestData, err := os.ReadFile(filepath.Join(dir, plugin.ManifestName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot read %s: %v\n", plugin.ManifestName, err)
		return 1
	}
	manifest, err := plugin.ParseManifest(manifestData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid manifest: %v\n", err)
		return 1
	}
	if _, err := os.Stat(filepath.Join(dir, plugin.EntryFile)); err != nil {
		fmt.Fprintf(os.Stderr, "error: missing entry file %s\n", plugin.EntryFile)
		return 1
	}

	out := *output
	if out == "" {
		out = manifest.ID + plugin.ArchiveExt
	}
	if err := buildArchive(dir, out); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("packed %s (%d trigger(s)) -> %s\n", manifest.ID, len(manifest.Triggers), out)
	return 0
}

func buildArchive(dir, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(f)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		// Skip editor droppings and nested archives.
		if strings.HasPrefix(filepath.Base(rel), ".") || strings.HasSuffix(rel, plugin.ArchiveExt) {
			return nil
		}

		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		zw.Close()
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}
