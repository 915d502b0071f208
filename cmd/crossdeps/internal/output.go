package internal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/cobra"

	"github.com/goplus/crossdeps/internal/workspace"
)

var pkgconfigRoot string

var pkgconfigCmd = &cobra.Command{
	Use:   "pkgconfig",
	Short: "Print compiler and linker flags of the exported packages",
	Long: `Pkgconfig runs pkg-config --cflags --libs for every .pc file exported in the
build root, the way dependent builds see them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := buildRoot(cmd, pkgconfigRoot)
		if err != nil {
			return err
		}
		ws, err := workspace.New(root)
		if err != nil {
			return err
		}
		return printPkgConfigInfo(cmd.OutOrStdout(), ws.ExportDir())
	},
}

func init() {
	pkgconfigCmd.Flags().StringVarP(&pkgconfigRoot, "root", "d", "", "Build root")
	rootCmd.AddCommand(pkgconfigCmd)
}

// printPkgConfigInfo prints the flags of every package in exportDir.
func printPkgConfigInfo(w io.Writer, exportDir string) error {
	entries, err := os.ReadDir(exportDir)
	if err != nil {
		return err
	}

	// Find all .pc files
	var pkgNames []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".pc") {
			pkgNames = append(pkgNames, strings.TrimSuffix(entry.Name(), ".pc"))
		}
	}
	if len(pkgNames) == 0 {
		return nil
	}

	for _, pkgName := range pkgNames {
		cmd := exec.Command("pkg-config", "--libs", "--cflags", pkgName)
		cmd.Env = append(os.Environ(), "PKG_CONFIG_LIBDIR="+exportDir)
		out, err := cmd.Output()
		if err != nil {
			return fmt.Errorf("pkg-config %s: %w", pkgName, err)
		}
		if result := strings.TrimSpace(string(out)); result != "" {
			fmt.Fprintf(w, "%s: %s\n", pkgName, result)
		}
	}
	return nil
}

// outputDir returns where collect steps should write for the requested
// output. A .zip output is staged in a temporary directory; finish archives
// it if the build succeeded and removes the staging directory.
func outputDir(dest string) (dir string, finish func(ok bool) error, err error) {
	if !strings.HasSuffix(dest, ".zip") {
		return dest, func(bool) error { return nil }, nil
	}
	dir, err = os.MkdirTemp("", "crossdeps-output")
	if err != nil {
		return "", nil, err
	}
	finish = func(ok bool) error {
		defer os.RemoveAll(dir)
		if !ok {
			return nil
		}
		return zipDir(dir, dest)
	}
	return dir, finish, nil
}

// zipDir creates a zip archive at dest from the contents of srcDir.
func zipDir(srcDir, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	w := zip.NewWriter(f)
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		writer, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(writer, file)
		return err
	})
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return f.Close()
}
