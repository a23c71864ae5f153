// Package aliyun implements nudity detection on the Aliyun Content
// Moderation 2.0 (Green) image moderation API.
package aliyun

import (
	"time"

	"github.com/modstack/imagesieve/analyzers"
)

// Config holds the configuration for the Aliyun analyzer.
type Config struct {
	analyzers.Config

	// Service selects the Green moderation service bundle. baselineCheck
	// covers the pornography and nudity label families.
	Service string
}

// DefaultConfig returns the default Aliyun configuration.
func DefaultConfig() Config {
	return Config{
		Config: analyzers.Config{
			Region:   "cn-shanghai",
			Endpoint: "green-cip.cn-shanghai.aliyuncs.com",
			Timeout:  30 * time.Second,
		},
		Service: "baselineCheck",
	}
}
