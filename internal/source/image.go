package source

import (
	"encoding/json"
	"net/url"
	"strings"
)

// imageSet is the descriptor carried in the agency API "imagens" field.
type imageSet struct {
	Intro    string `json:"image_intro"`
	Fulltext string `json:"image_fulltext"`
}

// ImageURL resolves the item's image to an absolute URL. The agency
// descriptor wins over a direct reference, the intro image over the full-text
// one. An empty string means the item has no usable image.
func (it Item) ImageURL() string {
	if ref := it.descriptorImage(); ref != "" {
		return resolveRef(it.ImageBase, ref)
	}
	if ref := strings.TrimSpace(it.Image); ref != "" {
		return resolveRef(it.ImageBase, ref)
	}
	return ""
}

func (it Item) descriptorImage() string {
	raw := strings.TrimSpace(it.Images)
	if raw == "" {
		return ""
	}
	var set imageSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return ""
	}
	if ref := strings.TrimSpace(set.Intro); ref != "" {
		return ref
	}
	return strings.TrimSpace(set.Fulltext)
}

func resolveRef(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return ""
	}
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
	}
	return baseURL.ResolveReference(refURL).String()
}
