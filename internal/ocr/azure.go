package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

func init() {
	Register("azure", func(cfg Config) (Engine, error) {
		if cfg.Azure.Endpoint == "" || cfg.Azure.Key == "" {
			return nil, fmt.Errorf("azure backend requires endpoint and key")
		}
		return Guard(NewAzureEngine(cfg.Azure), cfg.Remote), nil
	})
}

// azureWordConfidence is assigned to every word; the printed text endpoint
// reports no per-word confidence.
const azureWordConfidence = 0.9

// recognizer is the slice of the Computer Vision client the backend uses.
type recognizer interface {
	RecognizePrintedTextInStream(ctx context.Context, detectOrientation bool, image io.ReadCloser, language computervision.OcrLanguages) (computervision.OcrResult, error)
}

// AzureEngine calls the Azure Computer Vision printed text endpoint.
type AzureEngine struct {
	client recognizer
	cfg    AzureConfig
}

// NewAzureEngine creates the Azure backend.
func NewAzureEngine(cfg AzureConfig) *AzureEngine {
	client := computervision.New(cfg.Endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(cfg.Key)
	return &AzureEngine{client: &client, cfg: cfg}
}

// Name implements Engine.
func (e *AzureEngine) Name() string { return "azure" }

// Recognize implements Engine.
func (e *AzureEngine) Recognize(ctx context.Context, img image.Image, page int) ([]model.Token, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page for azure: %w", err)
	}
	res, err := e.client.RecognizePrintedTextInStream(ctx, true, io.NopCloser(&buf), computervision.OcrLanguages(computervision.En))
	if err != nil {
		return nil, fmt.Errorf("%w: azure: %v", model.ErrBackendUnavailable, err)
	}
	return azureTokens(res, page), nil
}

// Close implements Engine.
func (e *AzureEngine) Close() error { return nil }

func azureTokens(res computervision.OcrResult, page int) []model.Token {
	if res.Regions == nil {
		return nil
	}
	var toks []model.Token
	for _, region := range *res.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			for _, w := range *line.Words {
				if w.Text == nil || w.BoundingBox == nil {
					continue
				}
				box, ok := parseAzureBox(*w.BoundingBox)
				if !ok {
					continue
				}
				toks = append(toks, model.Token{
					Text:       *w.Text,
					Box:        box,
					Confidence: azureWordConfidence,
					Page:       page,
				})
			}
		}
	}
	return toks
}

// parseAzureBox parses "x,y,w,h".
func parseAzureBox(s string) (model.BBox, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.BBox{}, false
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return model.BBox{}, false
		}
		v[i] = n
	}
	return model.BBox{X: v[0], Y: v[1], W: v[2], H: v[3]}, true
}
