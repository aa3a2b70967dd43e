package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Printer hands a rendered print document to whatever produces the final artifact and
// returns where it ended up.
type Printer interface {
	Print(ctx context.Context, name string, html []byte) (string, error)
}

// FilePrinter saves the document as an HTML file; the browser's print dialog does the rest.
type FilePrinter struct {
	Dir string
}

func (p FilePrinter) Print(ctx context.Context, name string, html []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := p.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, DocumentName(name, ".html"))
	if err := os.WriteFile(path, html, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// DocumentName swaps any extension on name for ext.
func DocumentName(name, ext string) string {
	base := filepath.Base(name)
	if e := filepath.Ext(base); e != "" {
		base = strings.TrimSuffix(base, e)
	}
	return base + ext
}
