// Package oci loads the container specification from an OCI bundle.
package oci

import (
	"encoding/json"
	"fmt"
	"os"

	securejoin "github.com/cyphar/filepath-securejoin"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const configFilename = "config.json"

// LoadSpec reads and parses <bundle>/config.json.
func LoadSpec(bundle string) (*specs.Spec, error) {
	path, err := securejoin.SecureJoin(bundle, configFilename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open container spec %s: %w", path, err)
	}
	defer f.Close()

	var spec specs.Spec
	if err := json.NewDecoder(f).Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse container spec %s: %w", path, err)
	}
	return &spec, nil
}
