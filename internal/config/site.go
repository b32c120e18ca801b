package config

// EndpointProfile holds endpoint-specific configuration for a single
// listing. This allows customizing crawl behavior per endpoint: some
// listings need a session cookie, a different page parameter, or a
// different identifier pattern.
type EndpointProfile struct {
	// Cookie is an HTTP cookie to use when crawling this endpoint.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests to this
	// endpoint.
	Headers map[string]string `yaml:"headers,omitempty"`

	// PageParam overrides the query parameter carrying the page number.
	// If empty, the global PageParam is used.
	PageParam string `yaml:"pageParam,omitempty"`

	// PatternPrefix, PatternDigits, and PatternSuffix override the
	// identifier pattern for this endpoint. Zero values fall back to the
	// global pattern.
	PatternPrefix string `yaml:"patternPrefix,omitempty"`
	PatternDigits int    `yaml:"patternDigits,omitempty"`
	PatternSuffix string `yaml:"patternSuffix,omitempty"`
}

// File represents the structure of the .driftscan configuration file.
type File struct {
	// Endpoints maps listing URLs to their endpoint-specific
	// configurations.
	Endpoints map[string]EndpointProfile `yaml:"endpoints,omitempty"`

	// Defaults contains default profile values applied to all endpoints
	// unless overridden in the endpoint-specific configuration.
	Defaults EndpointProfile `yaml:"defaults,omitempty"`
}

// GetProfile returns the configuration for a specific endpoint.
// It merges the endpoint-specific configuration with defaults.
func (cf *File) GetProfile(endpoint string) EndpointProfile {
	// Start with defaults
	result := cf.Defaults

	// Override with endpoint-specific configuration if present
	if profile, ok := cf.Endpoints[endpoint]; ok {
		if profile.Cookie != "" {
			result.Cookie = profile.Cookie
		}
		if profile.PageParam != "" {
			result.PageParam = profile.PageParam
		}
		if profile.PatternPrefix != "" {
			result.PatternPrefix = profile.PatternPrefix
		}
		if profile.PatternDigits != 0 {
			result.PatternDigits = profile.PatternDigits
		}
		if profile.PatternSuffix != "" {
			result.PatternSuffix = profile.PatternSuffix
		}
		if len(profile.Headers) > 0 {
			if result.Headers == nil {
				result.Headers = make(map[string]string)
			}
			for k, v := range profile.Headers {
				result.Headers[k] = v
			}
		}
	}

	return result
}
