package gateway

import (
	"fmt"
	"strconv"

	"github.com/maauso/aige-pipeline/internal/presign"
	"github.com/maauso/aige-pipeline/internal/stage"
)

// target carries the run and upload destination of every media request.
type target struct {
	AvatarID string `json:"avatar_id"`
	WriteURL string `json:"writeUrl"`
	ReadURL  string `json:"readUrl"`
}

type avatarRequest struct {
	target
	Prompt       string   `json:"prompt"`
	SourceImages []string `json:"source_images"`
	AspectRatio  string   `json:"aspect_ratio"`
	Resolution   string   `json:"resolution"`
}

type overlayRequest struct {
	target
	Prompt      string        `json:"prompt"`
	AspectRatio string        `json:"aspect_ratio"`
	Params      overlayParams `json:"params"`
}

type overlayParams struct {
	Person     string         `json:"person"`
	Background string         `json:"background"`
	Position   stage.Position `json:"position"`
}

type upscaleRequest struct {
	target
	ImageURL     string  `json:"image_url"`
	Scale        float64 `json:"scale"`
	Model        string  `json:"model"`
	OutputFormat string  `json:"output_format"`
}

type videoRequest struct {
	target
	Prompt         string  `json:"prompt"`
	InputImage     string  `json:"input_img"`
	Duration       string  `json:"duration"`
	NegativePrompt string  `json:"negative_prompt"`
	CFGScale       float64 `json:"cfg_scale"`
}

type reframeRequest struct {
	target
	ImageURL      string `json:"image_url"`
	AspectRatio   string `json:"aspect_ratio"`
	Prompt        string `json:"prompt,omitempty"`
	GridPositionX *int   `json:"grid_position_x,omitempty"`
	GridPositionY *int   `json:"grid_position_y,omitempty"`
	XStart        *int   `json:"x_start,omitempty"`
	XEnd          *int   `json:"x_end,omitempty"`
	YStart        *int   `json:"y_start,omitempty"`
	YEnd          *int   `json:"y_end,omitempty"`
}

type refineRequest struct {
	target
	Prompt          string  `json:"prompt"`
	ImageURL        string  `json:"image_url"`
	AspectRatio     string  `json:"aspect_ratio"`
	GuidanceScale   float64 `json:"guidance_scale"`
	NumImages       int     `json:"num_images"`
	SafetyTolerance string  `json:"safety_tolerance"`
	OutputFormat    string  `json:"output_format"`
	Seed            *int    `json:"seed,omitempty"`
}

type finetuneRequest struct {
	DataURL      string `json:"data_url"`
	Comment      string `json:"finetune_comment"`
	Mode         string `json:"mode"`
	TriggerWord  string `json:"trigger_word"`
	Iterations   int    `json:"iterations"`
	Priority     string `json:"priority"`
	Captioning   bool   `json:"captioning"`
	LoraRank     int    `json:"lora_rank"`
	FinetuneType string `json:"finetune_type"`
}

type fluxUltraRequest struct {
	Prompt           string  `json:"prompt"`
	FinetuneID       string  `json:"finetune_id"`
	AspectRatio      string  `json:"aspect_ratio"`
	OutputFormat     string  `json:"output_format"`
	NumImages        int     `json:"num_images"`
	SafetyTolerance  string  `json:"safety_tolerance"`
	FinetuneStrength float64 `json:"finetune_strength"`
	Seed             *int    `json:"seed,omitempty"`
}

// segments maps update-in-place stages onto their path segment.
var segments = map[stage.Kind]string{
	stage.KindBackground: "background",
	stage.KindOverlay:    "overlay",
	stage.KindUpscale:    "upscaled",
	stage.KindVideo:      "video",
	stage.KindReframe:    "reframe",
	stage.KindRefine:     "refine",
}

// buildRequest renders validated params into the service request body.
func buildRequest(p stage.Params, pair presign.URLPair, avatarID string) (any, error) {
	t := target{AvatarID: avatarID, WriteURL: pair.WriteURL, ReadURL: pair.ReadURL}

	switch v := p.(type) {
	case stage.AvatarParams:
		return avatarRequest{
			target:       t,
			Prompt:       v.Prompt,
			SourceImages: nonNil(v.SourceImages),
			AspectRatio:  v.AspectRatio,
			Resolution:   v.AspectRatio,
		}, nil
	case stage.BackgroundParams:
		return avatarRequest{
			target:       t,
			Prompt:       v.Prompt,
			SourceImages: nonNil(v.SourceImages),
			AspectRatio:  v.AspectRatio,
			Resolution:   v.AspectRatio,
		}, nil
	case stage.OverlayParams:
		return overlayRequest{
			target:      t,
			Prompt:      v.Prompt,
			AspectRatio: v.AspectRatio,
			Params: overlayParams{
				Person:     v.Person,
				Background: v.Background,
				Position:   *v.Position,
			},
		}, nil
	case stage.UpscaleParams:
		return upscaleRequest{
			target:       t,
			ImageURL:     v.ImageURL,
			Scale:        v.Scale,
			Model:        v.Model,
			OutputFormat: v.OutputFormat,
		}, nil
	case stage.VideoParams:
		return videoRequest{
			target:         t,
			Prompt:         v.Prompt,
			InputImage:     v.InputImage,
			Duration:       strconv.Itoa(v.Duration),
			NegativePrompt: v.NegativePrompt,
			CFGScale:       v.CFGScale,
		}, nil
	case stage.ReframeParams:
		return reframeRequest{
			target:        t,
			ImageURL:      v.ImageURL,
			AspectRatio:   v.AspectRatio,
			Prompt:        v.Prompt,
			GridPositionX: v.GridPositionX,
			GridPositionY: v.GridPositionY,
			XStart:        v.XStart,
			XEnd:          v.XEnd,
			YStart:        v.YStart,
			YEnd:          v.YEnd,
		}, nil
	case stage.RefineParams:
		return refineRequest{
			target:          t,
			Prompt:          v.Prompt,
			ImageURL:        v.ImageURL,
			AspectRatio:     v.AspectRatio,
			GuidanceScale:   v.GuidanceScale,
			NumImages:       v.NumImages,
			SafetyTolerance: v.SafetyTolerance,
			OutputFormat:    v.OutputFormat,
			Seed:            v.Seed,
		}, nil
	case stage.FinetuneParams:
		captioning := true
		if v.Captioning != nil {
			captioning = *v.Captioning
		}
		return finetuneRequest{
			DataURL:      v.DataURL,
			Comment:      v.Comment,
			Mode:         v.Mode,
			TriggerWord:  v.TriggerWord,
			Iterations:   v.Iterations,
			Priority:     v.Priority,
			Captioning:   captioning,
			LoraRank:     v.LoraRank,
			FinetuneType: v.FinetuneType,
		}, nil
	case stage.FluxUltraParams:
		return fluxUltraRequest{
			Prompt:           v.Prompt,
			FinetuneID:       v.FinetuneID,
			AspectRatio:      v.AspectRatio,
			OutputFormat:     v.OutputFormat,
			NumImages:        v.NumImages,
			SafetyTolerance:  v.SafetyTolerance,
			FinetuneStrength: v.FinetuneStrength,
			Seed:             v.Seed,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %T", stage.ErrUnknownKind, p)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
