package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"groundwrite/api/internal/essay"
	"groundwrite/api/internal/sources"
)

// manifest describes one offline drafting run.
type manifest struct {
	Prompt          string           `yaml:"prompt"`
	TargetWordCount int              `yaml:"targetWordCount"`
	Mode            string           `yaml:"mode"`
	AcademicLevel   string           `yaml:"academicLevel"`
	CitationStyle   string           `yaml:"citationStyle"`
	Rubric          string           `yaml:"rubric"`
	Citations       *bool            `yaml:"citations"`
	Sources         []manifestSource `yaml:"sources"`
}

type manifestSource struct {
	ID        string `yaml:"id"`
	Group     string `yaml:"group"`
	Name      string `yaml:"name"`
	Text      string `yaml:"text"`
	File      string `yaml:"file"`
	URL       string `yaml:"url"`
	PageCount *int   `yaml:"pageCount"`
	Priority  bool   `yaml:"priority"`
}

func loadManifest(path string) (manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return manifest{}, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var m manifest
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range m.Sources {
		src := &m.Sources[i]
		if src.File == "" {
			continue
		}
		if src.Text != "" {
			return manifest{}, fmt.Errorf("source %d: set text or file, not both", i)
		}
		file := src.File
		if !filepath.IsAbs(file) {
			file = filepath.Join(base, file)
		}
		raw, err := os.ReadFile(file)
		if err != nil {
			return manifest{}, fmt.Errorf("source %d: %w", i, err)
		}
		src.Text = string(raw)
		if src.Name == "" {
			src.Name = filepath.Base(src.File)
		}
	}
	return m, nil
}

func (m manifest) request() essay.PlanRequest {
	return essay.PlanRequest{
		Prompt:          m.Prompt,
		TargetWordCount: m.TargetWordCount,
		Mode:            essay.Mode(m.Mode),
		AcademicLevel:   m.AcademicLevel,
		CitationStyle:   m.CitationStyle,
		Rubric:          m.Rubric,
	}
}

func (m manifest) includeCitations() bool {
	return m.Citations == nil || *m.Citations
}

// registry builds the source registry the manifest lists, in order.
func (m manifest) registry() (*sources.Registry, error) {
	reg := sources.New()
	var errs []error
	for i, src := range m.Sources {
		origin := sources.OriginPastedText
		switch {
		case src.File != "":
			origin = sources.OriginFile
		case src.URL != "":
			origin = sources.OriginURL
		}
		group := sources.Group(strings.ToLower(strings.TrimSpace(src.Group)))
		if group == "" {
			group = sources.GroupReferences
		}
		item, err := reg.Add(group, sources.Content{
			ID:          src.ID,
			DisplayName: src.Name,
			ExcerptText: src.Text,
			PageCount:   src.PageCount,
		}, origin)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %d: %w", i, err))
			continue
		}
		if src.Priority {
			reg.TogglePriority(item.ID)
		}
	}
	return reg, errors.Join(errs...)
}
