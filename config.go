package imagesieve

import "strings"

// ComponentConfig is the toggle matrix selecting which analyzer categories and
// sub-signals run for a request. Disabling a component excludes it from risk
// computation entirely; a disabled signal contributes zero risk, not low risk.
type ComponentConfig struct {
	// Nudity detector sub-signals.
	BreastDetection    bool `json:"breast_detection"`
	GenitaliaDetection bool `json:"genitalia_detection"`
	ButtocksDetection  bool `json:"buttocks_detection"`
	AnusDetection      bool `json:"anus_detection"`
	FaceDetection      bool `json:"face_detection"`

	// Secondary analyzer components.
	AgeEstimation         bool `json:"age_estimation"`
	ChildContentDetection bool `json:"child_content_detection"`
	ImageDescription      bool `json:"image_description"`
}

// DefaultComponentConfig returns the configuration with every component
// enabled. Missing or malformed keys always default to enabled; disabling
// detection by accident is the unsafe direction.
func DefaultComponentConfig() ComponentConfig {
	return ComponentConfig{
		BreastDetection:       true,
		GenitaliaDetection:    true,
		ButtocksDetection:     true,
		AnusDetection:         true,
		FaceDetection:         true,
		AgeEstimation:         true,
		ChildContentDetection: true,
		ImageDescription:      true,
	}
}

// Flat request keys accepted by ParseComponentConfig.
const (
	KeyBreastDetection    = "enable_breast_detection"
	KeyGenitaliaDetection = "enable_genitalia_detection"
	KeyButtocksDetection  = "enable_buttocks_detection"
	KeyAnusDetection      = "enable_anus_detection"
	KeyFaceDetection      = "enable_face_detection"
	KeyAgeEstimation      = "enable_age_estimation"
	KeyChildDetection     = "enable_child_detection"
	KeyImageDescription   = "enable_image_description"
)

// ParseComponentConfig parses a flat boolean map into a ComponentConfig.
// Absent keys and unparseable values default to enabled.
func ParseComponentConfig(form map[string]string) ComponentConfig {
	return DefaultComponentConfig().Merge(form)
}

// Merge applies a flat boolean map on top of the receiver. Absent keys keep
// their current value; unparseable values fall back to enabled.
func (c ComponentConfig) Merge(form map[string]string) ComponentConfig {
	c.BreastDetection = parseToggle(form, KeyBreastDetection, c.BreastDetection)
	c.GenitaliaDetection = parseToggle(form, KeyGenitaliaDetection, c.GenitaliaDetection)
	c.ButtocksDetection = parseToggle(form, KeyButtocksDetection, c.ButtocksDetection)
	c.AnusDetection = parseToggle(form, KeyAnusDetection, c.AnusDetection)
	c.FaceDetection = parseToggle(form, KeyFaceDetection, c.FaceDetection)
	c.AgeEstimation = parseToggle(form, KeyAgeEstimation, c.AgeEstimation)
	c.ChildContentDetection = parseToggle(form, KeyChildDetection, c.ChildContentDetection)
	c.ImageDescription = parseToggle(form, KeyImageDescription, c.ImageDescription)
	return c
}

func parseToggle(form map[string]string, key string, current bool) bool {
	v, ok := form[key]
	if !ok {
		return current
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no", "off":
		return false
	default:
		// Unrecognized values fall back to enabled (fail-safe).
		return true
	}
}

// partToggles maps nudity part classes to their component toggle.
// Unknown classes are always kept.
var partToggles = map[string]func(ComponentConfig) bool{
	PartBreastExposed:   func(c ComponentConfig) bool { return c.BreastDetection },
	PartGenitalia:       func(c ComponentConfig) bool { return c.GenitaliaDetection },
	PartButtocksExposed: func(c ComponentConfig) bool { return c.ButtocksDetection },
	PartAnusExposed:     func(c ComponentConfig) bool { return c.AnusDetection },
	PartFaceCovered:     func(c ComponentConfig) bool { return c.FaceDetection },
	PartFaceFemale:      func(c ComponentConfig) bool { return c.FaceDetection },
	PartFaceMale:        func(c ComponentConfig) bool { return c.FaceDetection },
}

// PartEnabled reports whether a nudity part class is enabled under the config.
func (c ComponentConfig) PartEnabled(class string) bool {
	toggle, ok := partToggles[strings.ToUpper(class)]
	if !ok {
		return true
	}
	return toggle(c)
}

// FilterParts drops disabled part classes from a raw detection map and its
// locations, returning the filtered copies.
func (c ComponentConfig) FilterParts(parts map[string]float64, locations map[string]Box) (map[string]float64, map[string]Box) {
	filtered := make(map[string]float64, len(parts))
	filteredLoc := make(map[string]Box)
	for class, conf := range parts {
		if !c.PartEnabled(class) {
			continue
		}
		filtered[class] = conf
		if loc, ok := locations[class]; ok {
			filteredLoc[class] = loc
		}
	}
	return filtered, filteredLoc
}

// NudityEnabled reports whether any nudity sub-signal is enabled. When every
// part class is disabled the nudity stage is skipped outright.
func (c ComponentConfig) NudityEnabled() bool {
	return c.BreastDetection || c.GenitaliaDetection || c.ButtocksDetection ||
		c.AnusDetection || c.FaceDetection
}

// StageEnabled reports whether a whole analyzer category is enabled.
func (c ComponentConfig) StageEnabled(cat SignalCategory) bool {
	switch cat {
	case CategoryNudity:
		return c.NudityEnabled()
	case CategoryPose:
		// The pose stage has no sub-toggles; it runs whenever body
		// detection is not fully disabled.
		return c.NudityEnabled()
	case CategoryFace:
		// The face stage produces age estimates; the FaceDetection toggle
		// only governs the nudity detector's face part classes.
		return c.AgeEstimation
	case CategoryDescription:
		return c.ImageDescription
	default:
		return false
	}
}
