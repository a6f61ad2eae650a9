package extraction

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// OcrClient implements OcrClient (C5): ocrImage(png, languageHints) ->
// TextRegion. It is an optional collaborator — the Pipeline holds a
// reference to it, but none of the Pipeline's branches calls it; image
// documents go through the vision-LLM path.
type OcrClient struct{}

// NewOcrClient returns a ready-to-use Tesseract-backed OcrClient. gosseract
// binds libtesseract in-process, and a fresh gosseract client is created
// and closed for each call, so there is no long-lived state to warm up or
// tear down.
func NewOcrClient() *OcrClient {
	return &OcrClient{}
}

// OcrImage runs Tesseract against a single page image and returns its
// extracted text. languageHints are BCP-47-ish tags; gosseract expects
// Tesseract's own "+"-joined traineddata names, so callers pass e.g.
// []string{"eng", "kor"} rather than []string{"en", "ko"}. Transient
// failures (a cold Tesseract worker, a momentarily locked traineddata
// file) are retried per DefaultOcrRetryConfig; the retry loop never
// fires for non-retryable errors such as a bad language hint.
func (c *OcrClient) OcrImage(ctx context.Context, png []byte, languageHints []string) (TextRegion, error) {
	return WithRetry(ctx, DefaultOcrRetryConfig, func(ctx context.Context) (TextRegion, error) {
		return c.ocrImageOnce(ctx, png, languageHints)
	})
}

func (c *OcrClient) ocrImageOnce(ctx context.Context, png []byte, languageHints []string) (TextRegion, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(languageHints) > 0 {
		if err := client.SetLanguage(languageHints...); err != nil {
			return TextRegion{}, newInternal(fmt.Sprintf("set OCR language hints: %v", err))
		}
	}

	if err := client.SetImageFromBytes(png); err != nil {
		return TextRegion{}, newTransportFailure("OCR image load failed", err, false)
	}

	select {
	case <-ctx.Done():
		return TextRegion{}, newCancelled()
	default:
	}

	text, err := client.Text()
	if err != nil {
		return TextRegion{}, newTransportFailure("tesseract OCR failed", err, true)
	}
	if text == "" {
		return TextRegion{}, newExtractionEmpty("OCR produced no text")
	}
	return TextRegion{Text: text}, nil
}
