package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Mode != ModeSetup && c.Mode != ModeUpdate {
		errors = append(errors, ValidationError{
			Field:   "mode",
			Message: fmt.Sprintf("mode must be %s or %s", ModeSetup, ModeUpdate),
		})
	}

	if c.DataDir == "" {
		errors = append(errors, ValidationError{
			Field:   "data_dir",
			Message: "data_dir is required",
		})
	}

	if c.StagingDir == c.DataDir {
		errors = append(errors, ValidationError{
			Field:   "staging_dir",
			Message: "staging_dir must differ from data_dir",
		})
	}

	if c.Source.BaseURL != "" {
		if _, err := url.Parse(c.Source.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "source.base_url",
				Message: "invalid source base URL",
			})
		}
	}

	if c.Source.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "source.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Source.StartPage < 1 {
		errors = append(errors, ValidationError{
			Field:   "source.start_page",
			Message: "start_page must be at least 1",
		})
	}

	if c.Chunking.MaxLength < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunking.max_length",
			Message: "max_length must be positive",
		})
	}

	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxLength {
		errors = append(errors, ValidationError{
			Field:   "chunking.overlap",
			Message: "overlap must be non-negative and less than max_length",
		})
	}

	if c.Chunking.MinLength < 0 {
		errors = append(errors, ValidationError{
			Field:   "chunking.min_length",
			Message: "min_length must be non-negative",
		})
	}

	if c.Resolver.FuzzyMatchThreshold < 0 || c.Resolver.FuzzyMatchThreshold > 100 {
		errors = append(errors, ValidationError{
			Field:   "resolver.fuzzy_match_threshold",
			Message: "fuzzy_match_threshold must be between 0 and 100",
		})
	}

	if _, err := url.Parse(c.Embedding.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "embedding.base_url",
			Message: "invalid embedding base URL",
		})
	}

	return errors
}
