package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// rasterDPI is the pdftoppm resolution at scale 1.0; Rasterize passes
// rasterDPI × scale. 150 balances legibility for vision models against
// output size.
const rasterDPI = 150

// Rasterize implements PageRasterizer (C3): rasterize(pdfBytes, scale) ->
// ordered Pages. It shells out to pdftoppm since no library in this tree
// renders PDF pages to images in-process. Pages beyond maxPages are
// silently truncated.
//
// Rasterization is sequential within one document: pdftoppm owns its own
// temp directory per call, so concurrent documents may rasterize in
// parallel, but one document's pages are produced by a single invocation.
func Rasterize(ctx context.Context, pdfBytes []byte, scale float64, maxPages int) ([]Page, error) {
	if maxPages <= 0 {
		maxPages = 50
	}
	dpi := int(rasterDPI * scale)
	if dpi <= 0 {
		dpi = rasterDPI
	}

	tmpDir, err := os.MkdirTemp("", "stmtextract-raster-*")
	if err != nil {
		return nil, newInternal(fmt.Sprintf("create temp dir: %v", err))
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, pdfBytes, 0o600); err != nil {
		return nil, newInternal(fmt.Sprintf("write temp pdf: %v", err))
	}

	outputPrefix := filepath.Join(tmpDir, "page")
	args := []string{
		"-png",
		"-r", fmt.Sprintf("%d", dpi),
		"-l", fmt.Sprintf("%d", maxPages),
		pdfPath,
		outputPrefix,
	}
	cmd := exec.CommandContext(ctx, "pdftoppm", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, newTransportFailure(fmt.Sprintf("pdftoppm: %s", stderr.String()), err, false)
	}

	images, err := filepath.Glob(outputPrefix + "*.png")
	if err != nil {
		return nil, newInternal(fmt.Sprintf("glob page images: %v", err))
	}
	sort.Strings(images)

	pages := make([]Page, 0, len(images))
	for i, imgPath := range images {
		png, err := os.ReadFile(imgPath)
		if err != nil {
			continue // skip pages that failed to rasterize; non-fatal
		}
		pages = append(pages, Page{Index: i, PNG: png})
	}

	return pages, nil
}
