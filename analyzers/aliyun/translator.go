package aliyun

import (
	sieve "github.com/modstack/imagesieve"
)

// Green risk labels that carry exposed-body evidence, mapped to the part
// classes the fusion layer understands. Labels outside this table (violence,
// politics, ads, ...) say nothing about nudity and are dropped.
//
// Label reference: https://help.aliyun.com/document_detail/467829.html
var labelToPart = map[string]string{
	"pornographic_adultContent":     sieve.PartGenitalia,
	"pornographic_adultContent_tii": sieve.PartGenitalia,
	"sexual_suggestiveContent":      sieve.PartBreastExposed,
	"sexual_partialNudity":          sieve.PartBreastExposed,
	"sexual_breast":                 sieve.PartBreastExposed,
	"sexual_buttocks":               sieve.PartButtocksExposed,
}

// translateLabel maps one Green label to a part class. The second return is
// false for clean markers and labels with no nudity meaning.
func translateLabel(label string) (string, bool) {
	if label == "" || label == "normal" || label == "nonLabel" {
		return "", false
	}
	part, ok := labelToPart[label]
	return part, ok
}
