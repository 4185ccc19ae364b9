// Package tree holds the in-memory category hierarchy used for
// descendant-scoped catalog queries and nested category views.
//
// The hierarchy is kept as an adjacency map from parent id to ordered child
// ids. All walks are iterative and track visited nodes, so a parent cycle
// written behind the service's back surfaces as ErrCorruptHierarchy instead
// of an endless loop.
package tree

import (
	"errors"
	"fmt"
	"sort"

	"shop-service/internal/models"
)

var (
	ErrNotFound         = errors.New("category not found")
	ErrCorruptHierarchy = errors.New("category hierarchy is corrupt")
)

// Node is the nested representation of a category.
type Node struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Parent      *int64  `json:"parent"`
	Description string  `json:"description"`
	Children    []*Node `json:"children"`
}

// Tree is an immutable snapshot of the category hierarchy.
type Tree struct {
	nodes    map[int64]models.Category
	children map[int64][]int64
	roots    []int64
}

// New builds a tree from a flat category list. Siblings are ordered by
// position, then id. A category whose parent is missing is treated as a root.
func New(categories []models.Category) *Tree {
	sorted := make([]models.Category, len(categories))
	copy(sorted, categories)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].ID < sorted[j].ID
	})

	t := &Tree{
		nodes:    make(map[int64]models.Category, len(sorted)),
		children: make(map[int64][]int64),
	}
	for _, c := range sorted {
		t.nodes[c.ID] = c
	}
	for _, c := range sorted {
		if c.ParentID == nil {
			t.roots = append(t.roots, c.ID)
			continue
		}
		if _, ok := t.nodes[*c.ParentID]; !ok {
			t.roots = append(t.roots, c.ID)
			continue
		}
		t.children[*c.ParentID] = append(t.children[*c.ParentID], c.ID)
	}
	return t
}

// Len returns the number of categories.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Get returns the category with the given id.
func (t *Tree) Get(id int64) (models.Category, bool) {
	c, ok := t.nodes[id]
	return c, ok
}

// Children returns the ordered child ids of id.
func (t *Tree) Children(id int64) []int64 {
	return t.children[id]
}

// Descendants returns every category reachable downward from id in
// depth-first pre-order, optionally starting with id itself.
func (t *Tree) Descendants(id int64, includeSelf bool) ([]int64, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	visited := make(map[int64]bool, len(t.nodes))
	result := make([]int64, 0)
	stack := []int64{id}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[current] {
			return nil, fmt.Errorf("%w: category %d reached twice below %d", ErrCorruptHierarchy, current, id)
		}
		visited[current] = true

		if current != id || includeSelf {
			result = append(result, current)
		}

		kids := t.children[current]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}

	return result, nil
}

// Ancestors returns the parent chain of id, nearest first.
func (t *Tree) Ancestors(id int64) ([]int64, error) {
	c, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	visited := map[int64]bool{id: true}
	var result []int64
	for c.ParentID != nil {
		parentID := *c.ParentID
		parent, ok := t.nodes[parentID]
		if !ok {
			break
		}
		if visited[parentID] {
			return nil, fmt.Errorf("%w: cycle through category %d", ErrCorruptHierarchy, parentID)
		}
		visited[parentID] = true
		result = append(result, parentID)
		c = parent
	}
	return result, nil
}

// WouldCycle reports whether making parentID the parent of id would put id
// inside its own subtree.
func (t *Tree) WouldCycle(id, parentID int64) (bool, error) {
	if id == parentID {
		return true, nil
	}
	ancestors, err := t.Ancestors(parentID)
	if err != nil {
		return false, err
	}
	for _, a := range ancestors {
		if a == id {
			return true, nil
		}
	}
	return false, nil
}

// Subtree returns the nested view rooted at id.
func (t *Tree) Subtree(id int64) (*Node, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	nodes, err := t.build([]int64{id}, make(map[int64]bool, len(t.nodes)))
	if err != nil {
		return nil, err
	}
	return nodes[0], nil
}

// Forest returns the nested view of every root. It fails if some categories
// cannot be reached from a root, which only happens when parents form a cycle.
func (t *Tree) Forest() ([]*Node, error) {
	visited := make(map[int64]bool, len(t.nodes))
	nodes, err := t.build(t.roots, visited)
	if err != nil {
		return nil, err
	}
	if len(visited) != len(t.nodes) {
		return nil, fmt.Errorf("%w: %d categories unreachable from any root", ErrCorruptHierarchy, len(t.nodes)-len(visited))
	}
	return nodes, nil
}

func (t *Tree) build(startIDs []int64, visited map[int64]bool) ([]*Node, error) {
	type frame struct {
		id     int64
		parent *Node
	}

	result := make([]*Node, 0, len(startIDs))
	stack := make([]frame, 0, len(startIDs))
	for i := len(startIDs) - 1; i >= 0; i-- {
		stack = append(stack, frame{id: startIDs[i]})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[f.id] {
			return nil, fmt.Errorf("%w: category %d reached twice", ErrCorruptHierarchy, f.id)
		}
		visited[f.id] = true

		c := t.nodes[f.id]
		node := &Node{
			ID:          c.ID,
			Name:        c.Name,
			Parent:      c.ParentID,
			Description: c.Description,
			Children:    []*Node{},
		}
		if f.parent == nil {
			result = append(result, node)
		} else {
			f.parent.Children = append(f.parent.Children, node)
		}

		kids := t.children[f.id]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: kids[i], parent: node})
		}
	}

	return result, nil
}
