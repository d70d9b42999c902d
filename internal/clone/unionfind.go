// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package clone

import "github.com/google/uuid"

// unionFind clusters entities by clone links with path compression and
// union by size.
type unionFind struct {
	parent map[uuid.UUID]uuid.UUID
	size   map[uuid.UUID]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[uuid.UUID]uuid.UUID),
		size:   make(map[uuid.UUID]int),
	}
}

func (u *unionFind) find(id uuid.UUID) uuid.UUID {
	root, ok := u.parent[id]
	if !ok {
		u.parent[id] = id
		u.size[id] = 1
		return id
	}
	if root == id {
		return id
	}
	top := u.find(root)
	u.parent[id] = top
	return top
}

func (u *unionFind) union(a, b uuid.UUID) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}

// components returns every connected component with at least two members.
func (u *unionFind) components() map[uuid.UUID][]uuid.UUID {
	groups := make(map[uuid.UUID][]uuid.UUID)
	for id := range u.parent {
		root := u.find(id)
		groups[root] = append(groups[root], id)
	}
	for root, members := range groups {
		if len(members) < 2 {
			delete(groups, root)
		}
	}
	return groups
}
