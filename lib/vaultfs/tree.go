// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vaultfs

import (
	"maps"
	"slices"
	"strings"

	"github.com/bureau-foundation/vault/lib/manifest"
)

// syntheticDirMode is the permission of directories an archive implies
// but does not list, such as the parents of a single backed-up file.
const syntheticDirMode = 0o755

// treeNode is one item of an archive arranged as a directory tree.
type treeNode struct {
	entry    manifest.FileEntry
	children map[string]*treeNode
}

func newDirectory(path string) *treeNode {
	return &treeNode{
		entry: manifest.FileEntry{
			Path: path,
			Kind: manifest.KindDirectory,
			Mode: syntheticDirMode,
		},
		children: make(map[string]*treeNode),
	}
}

// buildTree arranges entries under a root directory. Missing parent
// directories are synthesized. An entry whose parent is not a directory
// cannot be placed; such entries are counted in skipped.
func buildTree(entries []manifest.FileEntry) (root *treeNode, skipped int) {
	root = newDirectory("")
	for _, entry := range entries {
		components := strings.Split(entry.Path, "/")
		parent := root
		placed := true
		for i, component := range components[:len(components)-1] {
			child, ok := parent.children[component]
			if !ok {
				child = newDirectory(strings.Join(components[:i+1], "/"))
				parent.children[component] = child
			}
			if child.entry.Kind != manifest.KindDirectory {
				placed = false
				break
			}
			parent = child
		}
		if !placed {
			skipped++
			continue
		}

		name := components[len(components)-1]
		if existing, ok := parent.children[name]; ok {
			// The node was synthesized for an earlier child. A
			// non-directory entry cannot keep those children.
			existing.entry = entry
			if entry.Kind != manifest.KindDirectory {
				skipped += existing.count()
				existing.children = nil
			}
			continue
		}
		node := &treeNode{entry: entry}
		if entry.Kind == manifest.KindDirectory {
			node.children = make(map[string]*treeNode)
		}
		parent.children[name] = node
	}
	return root, skipped
}

// count returns the number of nodes below n.
func (n *treeNode) count() int {
	total := 0
	for _, child := range n.children {
		total += 1 + child.count()
	}
	return total
}

// names returns the child names in sorted order.
func (n *treeNode) names() []string {
	return slices.Sorted(maps.Keys(n.children))
}
