package stage

import "fmt"

// Requirements returns the upstream stages whose artifacts p needs before it
// can be submitted.
func Requirements(p Params) []Kind {
	switch v := p.(type) {
	case OverlayParams:
		return []Kind{KindAvatar, KindBackground}
	case FluxUltraParams:
		if v.FinetuneID == "" {
			return []Kind{KindFinetune}
		}
		return nil
	}
	if src := sourceOf(p); src != "" {
		return []Kind{src}
	}
	return nil
}

// CheckSource rejects a source that names no known stage. It needs no
// upstream state, so callers run it before checking Requirements.
func CheckSource(p Params) error {
	if src := sourceOf(p); src != "" && !src.IsValid() {
		return fmt.Errorf("%w: %s: unknown source stage %q", ErrInvalidParams, p.Kind(), src)
	}
	return nil
}

// Bind returns a copy of p with upstream values filled in from refs. A ref
// is the artifact read URL of a media stage and the model id of a finetune.
// Callers check Requirements first; a missing entry leaves the field as is.
func Bind(p Params, refs map[Kind]string) Params {
	switch v := p.(type) {
	case OverlayParams:
		if u, ok := refs[KindAvatar]; ok {
			v.Person = u
		}
		if u, ok := refs[KindBackground]; ok {
			v.Background = u
		}
		return v
	case UpscaleParams:
		if u, ok := refs[v.Source]; ok && v.Source != "" {
			v.ImageURL = u
		}
		return v
	case VideoParams:
		if u, ok := refs[v.Source]; ok && v.Source != "" {
			v.InputImage = u
		}
		return v
	case ReframeParams:
		if u, ok := refs[v.Source]; ok && v.Source != "" {
			v.ImageURL = u
		}
		return v
	case RefineParams:
		if u, ok := refs[v.Source]; ok && v.Source != "" {
			v.ImageURL = u
		}
		return v
	case FluxUltraParams:
		if id, ok := refs[KindFinetune]; ok && v.FinetuneID == "" {
			v.FinetuneID = id
		}
		return v
	default:
		return p
	}
}

func sourceOf(p Params) Kind {
	switch v := p.(type) {
	case UpscaleParams:
		return v.Source
	case VideoParams:
		return v.Source
	case ReframeParams:
		return v.Source
	case RefineParams:
		return v.Source
	default:
		return ""
	}
}
