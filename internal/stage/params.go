package stage

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Params is the typed parameter set of one stage.
type Params interface {
	// Kind returns the stage these params belong to.
	Kind() Kind
}

// AvatarParams are the parameters of the avatar stage.
type AvatarParams struct {
	Prompt       string   `json:"prompt" validate:"required"`
	SourceImages []string `json:"source_images,omitempty" validate:"omitempty,dive,url"`
	AspectRatio  string   `json:"aspect_ratio,omitempty"`
}

// BackgroundParams are the parameters of the background stage.
type BackgroundParams struct {
	Prompt       string   `json:"prompt" validate:"required"`
	SourceImages []string `json:"source_images,omitempty" validate:"omitempty,dive,url"`
	AspectRatio  string   `json:"aspect_ratio,omitempty"`
}

// Position places the person on the background.
type Position struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale" validate:"gt=0"`
}

// OverlayParams are the parameters of the overlay stage.
// Person and Background are bound from the avatar and background artifacts.
type OverlayParams struct {
	Prompt      string    `json:"prompt" validate:"required"`
	AspectRatio string    `json:"aspect_ratio,omitempty"`
	Person      string    `json:"person" validate:"required,url"`
	Background  string    `json:"background" validate:"required,url"`
	Position    *Position `json:"position" validate:"required"`
}

// UpscaleParams are the parameters of the upscale stage.
type UpscaleParams struct {
	Source       Kind    `json:"source,omitempty"`
	ImageURL     string  `json:"image_url" validate:"required,url"`
	Scale        float64 `json:"scale,omitempty" validate:"gte=0"`
	Model        string  `json:"model,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
}

// VideoParams are the parameters of the video stage.
type VideoParams struct {
	Source         Kind    `json:"source,omitempty"`
	Prompt         string  `json:"prompt" validate:"required"`
	InputImage     string  `json:"input_img" validate:"required,url"`
	Duration       int     `json:"duration" validate:"required,oneof=5 10"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	CFGScale       float64 `json:"cfg_scale,omitempty" validate:"gte=0"`
}

// ReframeParams are the parameters of the reframe stage.
type ReframeParams struct {
	Source        Kind   `json:"source,omitempty"`
	ImageURL      string `json:"image_url" validate:"required,url"`
	AspectRatio   string `json:"aspect_ratio,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	GridPositionX *int   `json:"grid_position_x,omitempty"`
	GridPositionY *int   `json:"grid_position_y,omitempty"`
	XStart        *int   `json:"x_start,omitempty"`
	XEnd          *int   `json:"x_end,omitempty"`
	YStart        *int   `json:"y_start,omitempty"`
	YEnd          *int   `json:"y_end,omitempty"`
}

// RefineParams are the parameters of the refine stage.
type RefineParams struct {
	Source          Kind    `json:"source,omitempty"`
	Prompt          string  `json:"prompt" validate:"required"`
	ImageURL        string  `json:"image_url" validate:"required,url"`
	AspectRatio     string  `json:"aspect_ratio,omitempty"`
	GuidanceScale   float64 `json:"guidance_scale,omitempty" validate:"gte=0"`
	NumImages       int     `json:"num_images,omitempty" validate:"gte=0,lte=4"`
	SafetyTolerance string  `json:"safety_tolerance,omitempty"`
	OutputFormat    string  `json:"output_format,omitempty"`
	Seed            *int    `json:"seed,omitempty"`
}

// FinetuneParams are the parameters of the finetune stage.
type FinetuneParams struct {
	DataURL      string `json:"data_url" validate:"required,url"`
	Comment      string `json:"finetune_comment,omitempty"`
	Mode         string `json:"mode,omitempty"`
	TriggerWord  string `json:"trigger_word,omitempty"`
	Iterations   int    `json:"iterations,omitempty" validate:"gte=0"`
	Priority     string `json:"priority,omitempty"`
	Captioning   *bool  `json:"captioning,omitempty"`
	LoraRank     int    `json:"lora_rank,omitempty" validate:"gte=0"`
	FinetuneType string `json:"finetune_type,omitempty"`
}

// FluxUltraParams are the parameters of the flux_ultra stage. FinetuneID is
// bound from the finetune artifact when left empty.
type FluxUltraParams struct {
	Prompt           string  `json:"prompt" validate:"required"`
	FinetuneID       string  `json:"finetune_id" validate:"required"`
	AspectRatio      string  `json:"aspect_ratio,omitempty"`
	OutputFormat     string  `json:"output_format,omitempty"`
	NumImages        int     `json:"num_images,omitempty" validate:"gte=0,lte=4"`
	SafetyTolerance  string  `json:"safety_tolerance,omitempty"`
	FinetuneStrength float64 `json:"finetune_strength,omitempty" validate:"gte=0,lte=2"`
	Seed             *int    `json:"seed,omitempty"`
}

// Kind implements Params.
func (AvatarParams) Kind() Kind { return KindAvatar }

// Kind implements Params.
func (BackgroundParams) Kind() Kind { return KindBackground }

// Kind implements Params.
func (OverlayParams) Kind() Kind { return KindOverlay }

// Kind implements Params.
func (UpscaleParams) Kind() Kind { return KindUpscale }

// Kind implements Params.
func (VideoParams) Kind() Kind { return KindVideo }

// Kind implements Params.
func (ReframeParams) Kind() Kind { return KindReframe }

// Kind implements Params.
func (RefineParams) Kind() Kind { return KindRefine }

// Kind implements Params.
func (FinetuneParams) Kind() Kind { return KindFinetune }

// Kind implements Params.
func (FluxUltraParams) Kind() Kind { return KindFluxUltra }

// Defaults returns a copy of p with unset optional fields filled in.
func Defaults(p Params) Params {
	switch v := p.(type) {
	case AvatarParams:
		if v.AspectRatio == "" {
			v.AspectRatio = "1:1"
		}
		return v
	case BackgroundParams:
		if v.AspectRatio == "" {
			v.AspectRatio = "1:1"
		}
		return v
	case OverlayParams:
		if v.AspectRatio == "" {
			v.AspectRatio = "landscape_16_9"
		}
		return v
	case UpscaleParams:
		if v.Scale == 0 {
			v.Scale = 2
		}
		if v.Model == "" {
			v.Model = "RealESRGAN_x4plus"
		}
		if v.OutputFormat == "" {
			v.OutputFormat = "png"
		}
		return v
	case VideoParams:
		if v.Duration == 0 {
			v.Duration = 5
		}
		if v.NegativePrompt == "" {
			v.NegativePrompt = "blur, distort, and low quality"
		}
		if v.CFGScale == 0 {
			v.CFGScale = 0.5
		}
		return v
	case ReframeParams:
		if v.AspectRatio == "" {
			v.AspectRatio = "16:9"
		}
		return v
	case RefineParams:
		if v.AspectRatio == "" {
			v.AspectRatio = "1:1"
		}
		if v.GuidanceScale == 0 {
			v.GuidanceScale = 3.5
		}
		if v.NumImages == 0 {
			v.NumImages = 1
		}
		if v.SafetyTolerance == "" {
			v.SafetyTolerance = "2"
		}
		if v.OutputFormat == "" {
			v.OutputFormat = "jpeg"
		}
		return v
	case FinetuneParams:
		if v.Mode == "" {
			v.Mode = "character"
		}
		if v.TriggerWord == "" {
			v.TriggerWord = "TOM4S"
		}
		if v.Iterations == 0 {
			v.Iterations = 300
		}
		if v.Priority == "" {
			v.Priority = "quality"
		}
		if v.Captioning == nil {
			captioning := true
			v.Captioning = &captioning
		}
		if v.LoraRank == 0 {
			v.LoraRank = 32
		}
		if v.FinetuneType == "" {
			v.FinetuneType = "full"
		}
		if v.Comment == "" {
			v.Comment = "AIGE finetune"
		}
		return v
	case FluxUltraParams:
		if v.AspectRatio == "" {
			v.AspectRatio = "1:1"
		}
		if v.OutputFormat == "" {
			v.OutputFormat = "jpeg"
		}
		if v.NumImages == 0 {
			v.NumImages = 1
		}
		if v.SafetyTolerance == "" {
			v.SafetyTolerance = "2"
		}
		if v.FinetuneStrength == 0 {
			v.FinetuneStrength = 0.5
		}
		return v
	default:
		return p
	}
}

// Validate checks p against its stage's required-field set.
func Validate(p Params) error {
	if p == nil {
		return fmt.Errorf("%w: params are nil", ErrInvalidParams)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidParams, p.Kind(), err)
	}
	return CheckSource(p)
}

// Decode builds the params of kind k from JSON.
func Decode(k Kind, data []byte) (Params, error) {
	var (
		p   Params
		err error
	)
	switch k {
	case KindAvatar:
		var v AvatarParams
		err = json.Unmarshal(data, &v)
		p = v
	case KindBackground:
		var v BackgroundParams
		err = json.Unmarshal(data, &v)
		p = v
	case KindOverlay:
		var v OverlayParams
		err = json.Unmarshal(data, &v)
		p = v
	case KindUpscale:
		var v UpscaleParams
		err = json.Unmarshal(data, &v)
		p = v
	case KindVideo:
		var v VideoParams
		err = json.Unmarshal(data, &v)
		p = v
	case KindReframe:
		var v ReframeParams
		err = json.Unmarshal(data, &v)
		p = v
	case KindRefine:
		var v RefineParams
		err = json.Unmarshal(data, &v)
		p = v
	case KindFinetune:
		var v FinetuneParams
		err = json.Unmarshal(data, &v)
		p = v
	case KindFluxUltra:
		var v FluxUltraParams
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, k, err)
	}
	return p, nil
}
