package main

import (
	"errors"
	"time"
)

type Config struct {
	LibraryDir string
	Model      string
	APIKey     string

	SummaryRatio    float64
	MinSummaryWords int
	MaxChunkTokens  int
	MinChapterWords int
	OutputDirName   string

	MaxAttempts    int
	RetryBaseDelay time.Duration

	MaxContextChars    int
	MaxContextEntities int

	RequestsPerSecond float64
	Concurrency       int
	MaxBooks          int

	Overwrite bool
	Verbose   bool
}

func (c Config) Validate() error {
	if c.LibraryDir == "" {
		return errors.New("missing -library")
	}
	if c.Model == "" {
		return errors.New("missing -model")
	}
	if c.SummaryRatio <= 0 || c.SummaryRatio > 1 {
		return errors.New("summary-ratio must be in (0, 1]")
	}
	if c.MaxChunkTokens <= 0 {
		return errors.New("max-chunk-tokens must be > 0")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("max-attempts must be > 0")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("rps must be >= 0")
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency must be >= 0")
	}
	if c.MaxBooks < 0 {
		return errors.New("max-books must be >= 0")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Model:              "gpt-5-mini",
		SummaryRatio:       0.13,
		MinSummaryWords:    200,
		MaxChunkTokens:     6000,
		MinChapterWords:    100,
		OutputDirName:      "summaries",
		MaxAttempts:        3,
		RetryBaseDelay:     2 * time.Second,
		MaxContextChars:    4096,
		MaxContextEntities: 40,
		RequestsPerSecond:  2,
		Concurrency:        3,
	}
}
