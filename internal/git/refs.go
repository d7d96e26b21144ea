package git

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

// Refs lists branches, remote branches and tags with peeled commit hashes.
// Symbolic refs such as origin/HEAD are skipped.
func (r *Repository) Refs() ([]Ref, error) {
	iter, err := r.References()
	if err != nil {
		return nil, newError(KindIOFailure, "list references", "", err)
	}
	defer iter.Close()
	var refs []Ref
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		var kind RefKind
		switch {
		case name.IsBranch():
			kind = RefKindBranch
		case name.IsRemote():
			kind = RefKindRemoteBranch
		case name.IsTag():
			kind = RefKindTag
		default:
			return nil
		}
		short := name.Short()
		if kind == RefKindRemoteBranch && strings.HasSuffix(short, "/HEAD") {
			return nil
		}
		hash, ok := r.peelCommitHash(ref.Hash())
		if !ok {
			return nil
		}
		refs = append(refs, Ref{Hash: hash.String(), Kind: kind, Name: short})
		return nil
	})
	if err != nil {
		return nil, newError(KindIOFailure, "list references", "", err)
	}
	slices.SortFunc(refs, func(a, b Ref) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return refs, nil
}

// BranchLabels maps commit hashes to decoration labels, HEAD first.
func (r *Repository) BranchLabels() (map[string][]string, error) {
	labels := map[string][]string{}
	refs, err := r.Refs()
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		label := ref.Name
		if ref.Kind == RefKindTag {
			label = fmt.Sprintf("tag: %s", ref.Name)
		}
		labels[ref.Hash] = append(labels[ref.Hash], label)
	}
	headHash, headName, ok, err := r.HeadState()
	if err != nil {
		return nil, err
	}
	if ok {
		key := headHash.String()
		label := "HEAD"
		if headName != "" && headName != "HEAD" {
			label = fmt.Sprintf("HEAD -> %s", headName)
		}
		labels[key] = append([]string{label}, labels[key]...)
	}
	return labels, nil
}

// LocalBranchNames returns the sorted local branch names and the HEAD name.
func (r *Repository) LocalBranchNames() (branches []string, headName string, err error) {
	refs, err := r.Refs()
	if err != nil {
		return nil, "", err
	}
	for _, ref := range refs {
		if ref.Kind == RefKindBranch {
			branches = append(branches, ref.Name)
		}
	}
	_, headName, ok, err := r.HeadState()
	if err != nil {
		return nil, "", err
	}
	if !ok || headName == "" {
		headName = "HEAD"
	}
	return branches, headName, nil
}
