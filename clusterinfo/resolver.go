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

// Package clusterinfo resolves globalstate.State from the Kubernetes node
// list the job's pods are scheduled on, reading each node's GPU count off
// a label instead of asking the launcher to thread that topology through
// environment variables by hand.
package clusterinfo

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"go.corp.nvidia.com/gocol/globalstate"
)

// GPUCountLabel is the node label the resolver reads each node's GPU
// count from.
const GPUCountLabel = "nvidia.com/gpu.count"

// NodeLister is the subset of kubernetes.Interface the resolver needs,
// narrowed so tests can supply a fake clientset without pulling in the
// whole Kubernetes API surface.
type NodeLister interface {
	ListNodes(ctx context.Context) ([]corev1.Node, error)
}

// clientsetLister adapts a real kubernetes.Interface to NodeLister.
type clientsetLister struct{ clientset kubernetes.Interface }

func (l clientsetLister) ListNodes(ctx context.Context) ([]corev1.Node, error) {
	list, err := l.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// NewInClusterLister builds a NodeLister from the in-cluster service
// account, falling back to the local kubeconfig when not running inside
// a pod — the same two-path config resolution CreateKubernetesClient
// uses.
func NewInClusterLister() (NodeLister, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
		config, err = kubeConfig.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("clusterinfo: failed to load kubernetes config: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("clusterinfo: failed to create kubernetes clientset: %w", err)
	}
	return clientsetLister{clientset: clientset}, nil
}

// Resolver is a globalstate.Resolver backed by a Kubernetes node list.
// Rank and Size come from the launcher (e.g. an env-var-driven rank
// assignment); the resolver's job is purely the node-topology half of
// Global State that a launcher would otherwise have to compute itself.
type Resolver struct {
	lister   NodeLister
	rank     int
	size     int
	nodeName string
}

// NewResolver builds a Resolver for this worker's rank/size/node within
// a world of size total workers.
func NewResolver(lister NodeLister, rank, size int, nodeName string) *Resolver {
	return &Resolver{lister: lister, rank: rank, size: size, nodeName: nodeName}
}

// Resolve lists cluster nodes, reads each one's GPU count off
// GPUCountLabel, and derives this worker's place in the resulting
// contiguous rank layout (nodes ordered by name, ranks assigned in that
// order, node 0 taking ranks [0, gpuCount(node0)), and so on).
func (r *Resolver) Resolve(ctx context.Context) (globalstate.State, error) {
	nodes, err := r.lister.ListNodes(ctx)
	if err != nil {
		return globalstate.State{}, fmt.Errorf("clusterinfo: listing nodes: %w", err)
	}
	if len(nodes) == 0 {
		return globalstate.State{}, fmt.Errorf("clusterinfo: no nodes returned")
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	gpuCounts := make([]int, len(nodes))
	for i, n := range nodes {
		count, err := gpuCount(n)
		if err != nil {
			return globalstate.State{}, fmt.Errorf("clusterinfo: node %s: %w", n.Name, err)
		}
		gpuCounts[i] = count
	}

	homogeneous := true
	for _, c := range gpuCounts[1:] {
		if c != gpuCounts[0] {
			homogeneous = false
			break
		}
	}

	nodeIdx := -1
	offset := 0
	offsets := make([]int, len(nodes))
	for i, n := range nodes {
		offsets[i] = offset
		if n.Name == r.nodeName {
			nodeIdx = i
		}
		offset += gpuCounts[i]
	}
	if nodeIdx == -1 {
		return globalstate.State{}, fmt.Errorf("clusterinfo: node %q not found among %d nodes", r.nodeName, len(nodes))
	}
	if offset != r.size {
		return globalstate.State{}, fmt.Errorf("clusterinfo: sum of node GPU counts %d does not match world size %d", offset, r.size)
	}

	localSize := gpuCounts[nodeIdx]
	localRank := r.rank - offsets[nodeIdx]
	peers := make([]int, localSize)
	for i := range peers {
		peers[i] = offsets[nodeIdx] + i
	}

	return globalstate.State{
		Rank:           r.rank,
		Size:           r.size,
		LocalRank:      localRank,
		LocalSize:      localSize,
		IsHomogeneous:  homogeneous,
		LocalCommRanks: peers,
		NodeRank:       nodeIdx,
		NodeCount:      len(nodes),
	}, nil
}

func gpuCount(node corev1.Node) (int, error) {
	raw, ok := node.Labels[GPUCountLabel]
	if !ok {
		return 0, fmt.Errorf("missing label %s", GPUCountLabel)
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count <= 0 {
		return 0, fmt.Errorf("invalid %s label %q", GPUCountLabel, raw)
	}
	return count, nil
}
