// Package interval provides an augmented interval tree for point and range
// overlap queries over half-open intervals [Low, High).
//
// The tree is an AVL tree keyed by Low where each node stores the maximum
// High endpoint (maxHigh) in its subtree, enabling subtree pruning during
// queries. Insert and Delete are O(log N); point queries are O(log N + k),
// where k is the number of matching intervals.
//
// A Tree is not safe for concurrent use.
package interval

import (
	"errors"
	"fmt"
)

// ErrInvariant reports a structural violation found by Validate.
var ErrInvariant = errors.New("interval tree invariant violated")

// Interval represents a half-open range [Low, High) with an associated Value.
type Interval[V comparable] struct {
	Low   float64
	High  float64
	Value V
}

// Contains reports whether point lies in [Low, High).
func (iv Interval[V]) Contains(point float64) bool {
	return iv.Low <= point && point < iv.High
}

// Tree is an augmented interval tree.
type Tree[V comparable] struct {
	root *node[V]
	size int
}

// node is an internal AVL node augmented with maxHigh.
type node[V comparable] struct {
	interval    Interval[V]
	maxHigh     float64
	height      int
	left, right *node[V]
}

// New creates an empty interval tree.
func New[V comparable]() *Tree[V] {
	return &Tree[V]{}
}

// Len returns the number of intervals in the tree.
func (t *Tree[V]) Len() int {
	return t.size
}

// Clear removes all intervals from the tree.
func (t *Tree[V]) Clear() {
	t.root = nil
	t.size = 0
}

// Insert adds the interval [low, high) with the given value.
func (t *Tree[V]) Insert(low, high float64, value V) {
	n := &node[V]{
		interval: Interval[V]{Low: low, High: high, Value: value},
		maxHigh:  high,
		height:   1,
	}

	t.root = insert(t.root, n)
	t.size++
}

// Delete removes one interval starting at low that carries value.
// Returns true if the interval was found and removed, false otherwise.
func (t *Tree[V]) Delete(low float64, value V) bool {
	var removed bool

	t.root, removed = remove(t.root, low, value)
	if removed {
		t.size--
	}

	return removed
}

// QueryPoint returns all intervals containing point, ordered by Low.
func (t *Tree[V]) QueryPoint(point float64) []Interval[V] {
	var results []Interval[V]

	collectPoint(t.root, point, &results)

	return results
}

// QueryOverlap returns all intervals overlapping [low, high).
// An interval [a, b) overlaps [low, high) when a < high AND b > low.
func (t *Tree[V]) QueryOverlap(low, high float64) []Interval[V] {
	var results []Interval[V]

	collectOverlap(t.root, low, high, &results)

	return results
}

// Latest returns the interval containing point with the greatest Low.
func (t *Tree[V]) Latest(point float64) (Interval[V], bool) {
	results := t.QueryPoint(point)
	if len(results) == 0 {
		return Interval[V]{}, false
	}

	best := results[0]

	for _, iv := range results[1:] {
		if iv.Low > best.Low {
			best = iv
		}
	}

	return best, true
}

// From returns every interval whose Low is at or after t.
func (t *Tree[V]) From(from float64) []Interval[V] {
	var results []Interval[V]

	collectFrom(t.root, from, &results)

	return results
}

// ForEach calls fn for every interval in Low order. The set is collected
// before the first call, so fn may modify the tree.
func (t *Tree[V]) ForEach(fn func(Interval[V])) {
	var results []Interval[V]

	collectAll(t.root, &results)

	for _, iv := range results {
		fn(iv)
	}
}

// ForEachAt calls fn for every interval containing point.
func (t *Tree[V]) ForEachAt(point float64, fn func(Interval[V])) {
	for _, iv := range t.QueryPoint(point) {
		fn(iv)
	}
}

// ForEachFrom calls fn for every interval whose Low is at or after from.
func (t *Tree[V]) ForEachFrom(from float64, fn func(Interval[V])) {
	for _, iv := range t.From(from) {
		fn(iv)
	}
}

// Cancel removes every interval whose Low is at or after from.
func (t *Tree[V]) Cancel(from float64) {
	t.ForEachFrom(from, func(iv Interval[V]) {
		t.Delete(iv.Low, iv.Value)
	})
}

// Validate checks the BST order, AVL balance, height and maxHigh invariants.
func (t *Tree[V]) Validate() error {
	count, err := validate(t.root)
	if err != nil {
		return err
	}

	if count != t.size {
		return fmt.Errorf("%w: size %d, counted %d", ErrInvariant, t.size, count)
	}

	return nil
}

// insert adds n below root (ties go left) and returns the rebalanced subtree.
func insert[V comparable](root, n *node[V]) *node[V] {
	if root == nil {
		return n
	}

	if n.interval.Low <= root.interval.Low {
		root.left = insert(root.left, n)
	} else {
		root.right = insert(root.right, n)
	}

	return rebalance(root)
}

// remove deletes the node carrying (low, value) and returns the rebalanced subtree.
func remove[V comparable](root *node[V], low float64, value V) (*node[V], bool) {
	if root == nil {
		return nil, false
	}

	var removed bool

	switch {
	case root.interval.Low == low && root.interval.Value == value:
		return detach(root), true
	case low < root.interval.Low:
		root.left, removed = remove(root.left, low, value)
	case low > root.interval.Low:
		root.right, removed = remove(root.right, low, value)
	default:
		// Equal keys can sit on either side after rotations.
		root.left, removed = remove(root.left, low, value)
		if !removed {
			root.right, removed = remove(root.right, low, value)
		}
	}

	if !removed {
		return root, false
	}

	return rebalance(root), true
}

// detach unlinks n from its subtree and returns the replacement subtree.
// With two children, the in-order successor takes n's place.
func detach[V comparable](n *node[V]) *node[V] {
	switch {
	case n.left == nil:
		return n.right
	case n.right == nil:
		return n.left
	}

	right, successor := removeMin(n.right)
	successor.left = n.left
	successor.right = right

	return rebalance(successor)
}

// removeMin unlinks the leftmost node of the subtree. It returns the
// rebalanced subtree and the unlinked node.
func removeMin[V comparable](n *node[V]) (*node[V], *node[V]) {
	if n.left == nil {
		right := n.right
		n.right = nil

		return right, n
	}

	var minNode *node[V]

	n.left, minNode = removeMin(n.left)

	return rebalance(n), minNode
}

// rebalance refreshes n's augmentation and applies AVL rotations.
func rebalance[V comparable](n *node[V]) *node[V] {
	update(n)

	switch balance := balanceOf(n); {
	case balance > 1:
		if balanceOf(n.left) < 0 {
			n.left = rotateLeft(n.left)
		}

		return rotateRight(n)
	case balance < -1:
		if balanceOf(n.right) > 0 {
			n.right = rotateRight(n.right)
		}

		return rotateLeft(n)
	default:
		return n
	}
}

// rotateLeft lifts n.right above n. Maintains height and maxHigh.
func rotateLeft[V comparable](n *node[V]) *node[V] {
	pivot := n.right
	n.right = pivot.left
	pivot.left = n

	update(n)
	update(pivot)

	return pivot
}

// rotateRight lifts n.left above n. Maintains height and maxHigh.
func rotateRight[V comparable](n *node[V]) *node[V] {
	pivot := n.left
	n.left = pivot.right
	pivot.right = n

	update(n)
	update(pivot)

	return pivot
}

// update recalculates height and maxHigh from n's interval and children.
func update[V comparable](n *node[V]) {
	n.height = 1 + max(heightOf(n.left), heightOf(n.right))

	m := n.interval.High

	if n.left != nil && n.left.maxHigh > m {
		m = n.left.maxHigh
	}

	if n.right != nil && n.right.maxHigh > m {
		m = n.right.maxHigh
	}

	n.maxHigh = m
}

// heightOf returns the height of n, treating nil as 0.
func heightOf[V comparable](n *node[V]) int {
	if n == nil {
		return 0
	}

	return n.height
}

// balanceOf returns left height minus right height.
func balanceOf[V comparable](n *node[V]) int {
	if n == nil {
		return 0
	}

	return heightOf(n.left) - heightOf(n.right)
}

// collectPoint recursively collects intervals containing point.
func collectPoint[V comparable](n *node[V], point float64, results *[]Interval[V]) {
	if n == nil {
		return
	}

	// Prune: every interval below ends at or before point.
	if n.maxHigh <= point {
		return
	}

	collectPoint(n.left, point, results)

	if n.interval.Contains(point) {
		*results = append(*results, n.interval)
	}

	// Prune right: every Low to the right is at least this Low.
	if n.interval.Low > point {
		return
	}

	collectPoint(n.right, point, results)
}

// collectOverlap recursively collects intervals overlapping [low, high).
func collectOverlap[V comparable](n *node[V], low, high float64, results *[]Interval[V]) {
	if n == nil || n.maxHigh <= low {
		return
	}

	collectOverlap(n.left, low, high, results)

	if n.interval.Low < high && n.interval.High > low {
		*results = append(*results, n.interval)
	}

	if n.interval.Low >= high {
		return
	}

	collectOverlap(n.right, low, high, results)
}

// collectFrom collects every interval with Low at or after from.
// Left subtrees are skipped once a node's Low falls before from.
func collectFrom[V comparable](n *node[V], from float64, results *[]Interval[V]) {
	if n == nil {
		return
	}

	if n.interval.Low >= from {
		collectFrom(n.left, from, results)
		*results = append(*results, n.interval)
	}

	collectFrom(n.right, from, results)
}

// collectAll performs an in-order traversal.
func collectAll[V comparable](n *node[V], results *[]Interval[V]) {
	if n == nil {
		return
	}

	collectAll(n.left, results)
	*results = append(*results, n.interval)
	collectAll(n.right, results)
}

// validate checks the subtree and returns its node count.
func validate[V comparable](n *node[V]) (int, error) {
	if n == nil {
		return 0, nil
	}

	leftCount, err := validate(n.left)
	if err != nil {
		return 0, err
	}

	rightCount, err := validate(n.right)
	if err != nil {
		return 0, err
	}

	if n.left != nil && n.left.interval.Low > n.interval.Low {
		return 0, fmt.Errorf("%w: left low %v above %v", ErrInvariant, n.left.interval.Low, n.interval.Low)
	}

	if n.right != nil && n.right.interval.Low < n.interval.Low {
		return 0, fmt.Errorf("%w: right low %v below %v", ErrInvariant, n.right.interval.Low, n.interval.Low)
	}

	if want := 1 + max(heightOf(n.left), heightOf(n.right)); n.height != want {
		return 0, fmt.Errorf("%w: height %d, want %d", ErrInvariant, n.height, want)
	}

	if b := balanceOf(n); b > 1 || b < -1 {
		return 0, fmt.Errorf("%w: balance %d at low %v", ErrInvariant, b, n.interval.Low)
	}

	wantMax := n.interval.High
	if n.left != nil {
		wantMax = max(wantMax, n.left.maxHigh)
	}

	if n.right != nil {
		wantMax = max(wantMax, n.right.maxHigh)
	}

	if n.maxHigh != wantMax {
		return 0, fmt.Errorf("%w: maxHigh %v, want %v", ErrInvariant, n.maxHigh, wantMax)
	}

	return leftCount + rightCount + 1, nil
}
