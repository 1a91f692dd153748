package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ocrPage renders one PDF page to an image with pdftoppm and runs Tesseract
// over it. Requires poppler-utils and tesseract-ocr on the host.
func ocrPage(ctx context.Context, path string, pageNum int) (string, error) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return "", fmt.Errorf("pdftoppm not available (install poppler-utils): %w", err)
	}
	if _, err := exec.LookPath("tesseract"); err != nil {
		return "", fmt.Errorf("tesseract not available (install tesseract-ocr): %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "ocr-page-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// 300 DPI gives Tesseract enough to work with on scanned statements.
	pageStr := strconv.Itoa(pageNum)
	imgPrefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm", "-r", "300", "-png",
		"-f", pageStr, "-l", pageStr, path, imgPrefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("pdftoppm failed: %v (output: %s)", err, string(out))
	}

	imgFile, err := findPageImage(tmpDir)
	if err != nil {
		return "", err
	}

	// PSM 4: single column of variable-size text, which fits statement layouts.
	outBase := strings.TrimSuffix(imgFile, ".png") + "-ocr"
	cmd = exec.CommandContext(ctx, "tesseract", imgFile, outBase, "-l", "eng", "--psm", "4")
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("tesseract failed: %v (output: %s)", err, string(out))
	}

	data, err := os.ReadFile(outBase + ".txt")
	if err != nil {
		return "", fmt.Errorf("failed to read OCR output: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func findPageImage(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read temp dir: %w", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".png") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("pdftoppm produced no page image")
}
