package vision

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"
	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
)

const maxImageBytes = 20 << 20

// Provider implements ports.AnalysisProvider on top of a Model. Every
// failure, from loading the image to decoding the reply, is reported as a
// failed outcome.
type Provider struct {
	logger    *slog.Logger
	files     ports.FileStore
	model     Model
	narrative Model
}

var _ ports.AnalysisProvider = (*Provider)(nil)

// NewProvider wires the vision model and the text model used for the price
// narrative. A nil narrative model reuses the vision model.
func NewProvider(logger *slog.Logger, files ports.FileStore, model, narrative Model) *Provider {
	if narrative == nil {
		narrative = model
	}
	return &Provider{logger: logger, files: files, model: model, narrative: narrative}
}

func (p *Provider) Extract(ctx context.Context, kind domain.AnalysisKind, image domain.FileRef) domain.AnalysisOutcome {
	if !kind.IsExtraction() {
		return domain.Failed(kind, fmt.Sprintf("%s is not an extraction kind", kind))
	}
	return p.analyze(ctx, kind, []domain.FileRef{image})
}

func (p *Provider) Analyze(ctx context.Context, kind domain.AnalysisKind, images []domain.FileRef) domain.AnalysisOutcome {
	return p.analyze(ctx, kind, images)
}

func (p *Provider) analyze(ctx context.Context, kind domain.AnalysisKind, refs []domain.FileRef) domain.AnalysisOutcome {
	prompt, ok := promptFor(kind)
	if !ok {
		return domain.Failed(kind, fmt.Sprintf("unsupported analysis kind %q", kind))
	}
	if len(refs) == 0 {
		return domain.Failed(kind, "no image supplied")
	}

	images, err := p.load(ctx, refs)
	if err != nil {
		return domain.Failed(kind, err.Error())
	}

	reply, err := p.model.Complete(ctx, prompt, images)
	if err != nil {
		return domain.Failed(kind, fmt.Sprintf("model call failed: %v", err))
	}

	payload, err := parsePayload(kind, reply)
	if err != nil {
		p.logger.Debug("unparseable model reply", "kind", kind, "reply", truncate(reply, 400))
		return domain.Failed(kind, fmt.Sprintf("malformed model response: %v", err))
	}
	return domain.Succeeded(kind, payload)
}

func (p *Provider) SynthesizePriceNarrative(ctx context.Context, document string) domain.NarrativeOutcome {
	reply, err := p.narrative.Complete(ctx, narrativePrompt+"\n"+jsonOnly+"\n\n"+document, nil)
	if err != nil {
		return domain.NarrativeOutcome{Error: fmt.Sprintf("model call failed: %v", err)}
	}
	out, err := parseNarrative(reply)
	if err != nil {
		return domain.NarrativeOutcome{Error: fmt.Sprintf("malformed model response: %v", err)}
	}
	return out
}

func (p *Provider) load(ctx context.Context, refs []domain.FileRef) ([]Image, error) {
	images := make([]Image, 0, len(refs))
	for _, ref := range refs {
		rc, err := p.files.Open(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("open image %s: %w", ref, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxImageBytes))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", ref, err)
		}
		images = append(images, Image{Data: data, MIME: mimetype.Detect(data).String()})
	}
	return images, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
