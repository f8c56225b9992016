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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.FusionAtom != 64 {
		t.Errorf("expected default FusionAtom 64, got %d", cfg.FusionAtom)
	}
	if cfg.RendezvousTimeout != 30*time.Second {
		t.Errorf("expected default RendezvousTimeout 30s, got %s", cfg.RendezvousTimeout)
	}
	if !cfg.HierarchicalDefault {
		t.Error("expected default HierarchicalDefault true")
	}
}

func TestLoadFileMissingReturnsDefault(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != Default() {
		t.Errorf("expected default config for missing file, got %+v", cfg)
	}
}

func TestLoadFileEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != Default() {
		t.Errorf("expected default config for empty path, got %+v", cfg)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gocol.yaml")
	writeFile(t, path, "fusionAtom: 128\nhierarchicalDefault: false\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FusionAtom != 128 {
		t.Errorf("expected FusionAtom 128, got %d", cfg.FusionAtom)
	}
	if cfg.HierarchicalDefault {
		t.Error("expected HierarchicalDefault false")
	}
	if cfg.RendezvousTimeout != Default().RendezvousTimeout {
		t.Errorf("expected RendezvousTimeout left at default, got %s", cfg.RendezvousTimeout)
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	writeFile(t, path, "fusionAtom: [this is not an int\n")

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFlagPointersToConfigWithoutFileUsesFlagDefaults(t *testing.T) {
	configFile := ""
	fusionAtom := 0
	rendezvousTimeout := time.Duration(0)
	hierarchicalDefault := true

	f := &FlagPointers{
		configFile:          &configFile,
		fusionAtom:          &fusionAtom,
		rendezvousTimeout:   &rendezvousTimeout,
		hierarchicalDefault: &hierarchicalDefault,
	}

	cfg, err := f.ToConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != Default() {
		t.Errorf("expected unset flags to leave Default() untouched, got %+v", cfg)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
}
