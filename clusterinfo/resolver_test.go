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

package clusterinfo

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type fakeLister []corev1.Node

func (f fakeLister) ListNodes(ctx context.Context) ([]corev1.Node, error) { return f, nil }

func node(name string, gpuCount int) corev1.Node {
	return corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{GPUCountLabel: itoa(gpuCount)},
		},
	}
}

func itoa(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var out []byte
	for n > 0 {
		out = append([]byte{digits[n%10]}, out...)
		n /= 10
	}
	return string(out)
}

func TestResolveHomogeneousCluster(t *testing.T) {
	lister := fakeLister{node("node-a", 4), node("node-b", 4)}

	r := NewResolver(lister, 5, 8, "node-b")
	state, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !state.IsHomogeneous {
		t.Fatalf("expected homogeneous cluster")
	}
	if state.LocalSize != 4 || state.LocalRank != 1 || state.NodeRank != 1 || state.NodeCount != 2 {
		t.Fatalf("unexpected state: %+v", state)
	}
	wantPeers := []int{4, 5, 6, 7}
	if len(state.LocalCommRanks) != len(wantPeers) {
		t.Fatalf("unexpected peer count: %+v", state.LocalCommRanks)
	}
	for i, p := range wantPeers {
		if state.LocalCommRanks[i] != p {
			t.Fatalf("unexpected peers: %+v", state.LocalCommRanks)
		}
	}
}

func TestResolveHeterogeneousCluster(t *testing.T) {
	lister := fakeLister{node("node-a", 2), node("node-b", 4)}

	r := NewResolver(lister, 3, 6, "node-b")
	state, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if state.IsHomogeneous {
		t.Fatalf("expected heterogeneous cluster")
	}
	if state.LocalSize != 4 || state.LocalRank != 1 {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestResolveUnknownNode(t *testing.T) {
	lister := fakeLister{node("node-a", 2)}
	r := NewResolver(lister, 0, 2, "node-missing")
	if _, err := r.Resolve(context.Background()); err == nil {
		t.Fatalf("expected error for unknown node")
	}
}

func TestResolveSizeMismatch(t *testing.T) {
	lister := fakeLister{node("node-a", 2)}
	r := NewResolver(lister, 0, 99, "node-a")
	if _, err := r.Resolve(context.Background()); err == nil {
		t.Fatalf("expected error for world-size mismatch")
	}
}
