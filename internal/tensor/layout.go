package tensor

import "fmt"

// Role labels the semantic meaning of one tensor dimension.
type Role byte

const (
	RoleBatch   Role = 'N'
	RoleChannel Role = 'C'
	RoleDepth   Role = 'D'
	RoleHeight  Role = 'H'
	RoleWidth   Role = 'W'
)

// Dims is the fixed logical rank: batch plus three spatial/channel axes.
const Dims = 4

// Layout names the role of each tensor dimension in order, one symbol per
// dimension, e.g. "NDHW" for batch, depth, height, width. Two tensors with
// the same shape but different layouts are related by an axis permutation.
type Layout string

// Validate checks that l has exactly Dims unique role symbols drawn from
// the known roles and includes the batch role.
func (l Layout) Validate() error {
	if len(l) != Dims {
		return fmt.Errorf("layout %q: want %d axis roles, have %d", l, Dims, len(l))
	}
	var seen [Dims]Role
	hasBatch := false
	for i := 0; i < len(l); i++ {
		r := Role(l[i])
		switch r {
		case RoleBatch:
			hasBatch = true
		case RoleChannel, RoleDepth, RoleHeight, RoleWidth:
		default:
			return fmt.Errorf("layout %q: unknown axis role %q", l, string(r))
		}
		for _, s := range seen[:i] {
			if s == r {
				return fmt.Errorf("layout %q: duplicate axis role %q", l, string(r))
			}
		}
		seen[i] = r
	}
	if !hasBatch {
		return fmt.Errorf("layout %q: missing batch role %q", l, string(RoleBatch))
	}
	return nil
}

// Index returns the dimension holding role r, or -1 if absent.
func (l Layout) Index(r Role) int {
	for i := 0; i < len(l); i++ {
		if Role(l[i]) == r {
			return i
		}
	}
	return -1
}

// PatchRole returns the role of the innermost dimension, the axis a caller
// volume is patched along.
func (l Layout) PatchRole() Role {
	return Role(l[len(l)-1])
}

// Permutation computes the axis mapping that rearranges a tensor laid out
// as from into one laid out as to: output dimension i takes input dimension
// perm[i]. The two labels must name the same role set.
func Permutation(from, to Layout) ([Dims]int, error) {
	var perm [Dims]int
	if err := from.Validate(); err != nil {
		return perm, err
	}
	if err := to.Validate(); err != nil {
		return perm, err
	}
	for i := 0; i < len(to); i++ {
		j := from.Index(Role(to[i]))
		if j < 0 {
			return perm, fmt.Errorf("layouts %q and %q name different roles", from, to)
		}
		perm[i] = j
	}
	return perm, nil
}

// PatchedDim reports which dimension of to holds role r after a from-to
// rearrangement. The stitcher uses it to locate the patched axis in the
// final output layout.
func PatchedDim(from, to Layout, r Role) (int, error) {
	perm, err := Permutation(from, to)
	if err != nil {
		return 0, err
	}
	src := from.Index(r)
	if src < 0 {
		return 0, fmt.Errorf("layout %q does not carry role %q", from, string(r))
	}
	for i, p := range perm {
		if p == src {
			return i, nil
		}
	}
	return 0, fmt.Errorf("role %q unmapped between %q and %q", string(r), from, to)
}
