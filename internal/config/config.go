/*
SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the engine's tunables from an optional YAML file and
// command-line flags, flags taking priority over the file and the file
// taking priority over the built-in defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"
)

// Config holds the engine-wide tunables that aren't derived from cluster
// topology or per-call arguments.
type Config struct {
	// FusionAtom is the configured value for strategy.FusionAtom, the
	// atom whose LocalSize multiple hierarchical padding rounds batches up
	// to. This package does not assign strategy.FusionAtom itself.
	FusionAtom int `json:"fusionAtom"`
	// RendezvousTimeout is the configured bound on how long a
	// communicator build or barrier waits for its peers. No package in
	// this module applies it.
	RendezvousTimeout time.Duration `json:"rendezvousTimeout"`
	// HierarchicalDefault is the configured value for a
	// StaticParameterManager. This package does not build one.
	HierarchicalDefault bool `json:"hierarchicalDefault"`
}

// Default returns the engine's built-in tunables.
func Default() Config {
	return Config{
		FusionAtom:          64,
		RendezvousTimeout:   30 * time.Second,
		HierarchicalDefault: true,
	}
}

// LoadFile reads path as YAML and overlays it onto Default(). A missing
// path is not an error; Default() is returned unchanged.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// FlagPointers holds pointers to flag values for engine configuration.
type FlagPointers struct {
	configFile          *string
	fusionAtom          *int
	rendezvousTimeout   *time.Duration
	hierarchicalDefault *bool
}

// RegisterFlags registers the engine's command-line flags. Must be
// followed by flag.Parse() and then ToConfig().
func RegisterFlags() *FlagPointers {
	return &FlagPointers{
		configFile:          flag.String("gocol-config-file", "", "Path to a YAML file with engine tunables"),
		fusionAtom:          flag.Int("gocol-fusion-atom", 0, "Override the hierarchical padding alignment atom (0 keeps the file/default value)"),
		rendezvousTimeout:   flag.Duration("gocol-rendezvous-timeout", 0, "Override the communicator build/barrier timeout (0 keeps the file/default value)"),
		hierarchicalDefault: flag.Bool("gocol-hierarchical-default", true, "Default HierarchicalAllreduce() value when no parameter manager overrides it"),
	}
}

// ToConfig resolves the final Config: the YAML file named by
// -gocol-config-file overlaid with any flags explicitly set on the command
// line. Must be called after flag.Parse().
func (f *FlagPointers) ToConfig() (Config, error) {
	cfg, err := LoadFile(*f.configFile)
	if err != nil {
		return cfg, err
	}

	set := make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if set["gocol-fusion-atom"] && *f.fusionAtom != 0 {
		cfg.FusionAtom = *f.fusionAtom
	}
	if set["gocol-rendezvous-timeout"] && *f.rendezvousTimeout != 0 {
		cfg.RendezvousTimeout = *f.rendezvousTimeout
	}
	if set["gocol-hierarchical-default"] {
		cfg.HierarchicalDefault = *f.hierarchicalDefault
	}
	return cfg, nil
}
