package primitives

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"

	"github.com/ledongthuc/pdf"
	"github.com/orisano/pixelmatch"

	"github.com/cdphost/bridge/internal/cdperr"
)

// CompareScreenshots diffs two PNG-encoded `computer screenshot` results and
// returns the count of mismatched pixels plus a PNG-encoded visual diff.
//
// (expansion) Grounded on chromedp's own go.mod dependency on
// github.com/orisano/pixelmatch for exactly this kind of pixel-diff
// assertion in its screenshot tests; wired here as a supplemental primitive
// since spec.md's screenshot tool itself is otherwise a bare CDP
// pass-through with no built-in comparison.
func CompareScreenshots(pngA, pngB []byte) (mismatched int, diffPNG []byte, err error) {
	imgA, err := png.Decode(bytes.NewReader(pngA))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: decode first screenshot: %v", cdperr.BadArguments, err)
	}
	imgB, err := png.Decode(bytes.NewReader(pngB))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: decode second screenshot: %v", cdperr.BadArguments, err)
	}
	if imgA.Bounds() != imgB.Bounds() {
		return 0, nil, fmt.Errorf("%w: screenshot dimensions differ: %v vs %v", cdperr.BadArguments, imgA.Bounds(), imgB.Bounds())
	}

	diff := image.NewRGBA(imgA.Bounds())
	mismatched, err = pixelmatch.MatchPixel(imgA, imgB, draw.Image(diff), pixelmatch.Threshold(0.1))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: pixelmatch: %v", cdperr.Internal, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, diff); err != nil {
		return 0, nil, fmt.Errorf("%w: encode diff image: %v", cdperr.Internal, err)
	}
	return mismatched, buf.Bytes(), nil
}

// ExtractPDFText reads the plain text of a PDF served by Chrome's built-in
// PDF viewer target, used by get_page_text when the active target's
// Content-Type is application/pdf.
//
// (expansion) Grounded on chromedp depending on github.com/ledongthuc/pdf for
// the same purpose in its own example tree.
func ExtractPDFText(pdfBytes []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", cdperr.BadArguments, err)
	}

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: extract pdf text: %v", cdperr.Internal, err)
	}
	text, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: read pdf text: %v", cdperr.Internal, err)
	}
	return string(text), nil
}
