package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// loadSpec reads a run spec from a YAML or JSON file.
func loadSpec(path string) (domain.RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RunSpec{}, fmt.Errorf("read spec: %w", err)
	}
	return parseSpec(data)
}

func parseSpec(data []byte) (domain.RunSpec, error) {
	// JSON documents are valid YAML.
	var spec domain.RunSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return domain.RunSpec{}, fmt.Errorf("parse spec: %w", err)
	}
	if err := spec.Dedupe().Validate(); err != nil {
		return domain.RunSpec{}, fmt.Errorf("invalid spec: %w", err)
	}
	return spec, nil
}
