package tencent

import (
	sieve "github.com/modstack/imagesieve"
)

// IMS sub-labels refine the top-level label; they map to the most specific
// part class available. Labels outside the porn/sexy families carry no
// nudity meaning and are dropped.
var subLabelToPart = map[string]string{
	"SexOrgan":     sieve.PartGenitalia,
	"SexBehavior":  sieve.PartGenitalia,
	"Breast":       sieve.PartBreastExposed,
	"SexyBehavior": sieve.PartBreastExposed,
	"Buttock":      sieve.PartButtocksExposed,
}

// Top-level fallback when no sub-label is present.
var labelToPart = map[string]string{
	"Porn": sieve.PartGenitalia,
	"Sexy": sieve.PartBreastExposed,
}

// TMS detail labels in the minor-safety family; keywords under any other
// label family are not child-content evidence.
var minorLabels = map[string]bool{
	"Minor":       true,
	"MinorSexual": true,
	"ChildAbuse":  true,
}
