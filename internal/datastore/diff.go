package datastore

import (
	"encoding/json"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/pkg/errors"
)

// Diff computes the deletions/additions/changed sets between before and
// after's top-level fields, scoped under xpath. It uses a JSON merge
// patch (RFC 7386) as the underlying change representation: a merge
// patch's null values are deletions, its other top-level keys absent from
// before are additions, and remaining keys present in both are changes.
func Diff(before, after Tree, xpath string) (Delta, error) {
	var beforeData = before.Data
	var afterData = after.Data
	if len(beforeData) == 0 {
		beforeData = json.RawMessage("{}")
	}
	if len(afterData) == 0 {
		afterData = json.RawMessage("{}")
	}

	var patch, err = jsonpatch.CreateMergePatch(beforeData, afterData)
	if err != nil {
		return Delta{}, errors.Wrap(err, "datastore: create merge patch")
	}

	var merge map[string]json.RawMessage
	if err := json.Unmarshal(patch, &merge); err != nil {
		return Delta{}, errors.Wrap(err, "datastore: decode merge patch")
	}

	var beforeFields map[string]json.RawMessage
	if err := json.Unmarshal(beforeData, &beforeFields); err != nil {
		return Delta{}, errors.Wrap(err, "datastore: decode before tree")
	}

	var delta Delta
	for key, val := range merge {
		var childPath = xpath + "/" + key
		if string(val) == "null" {
			delta.Deleted = append(delta.Deleted, Tree{XPath: childPath, Data: beforeFields[key]})
			continue
		}
		if prev, existed := beforeFields[key]; existed {
			delta.ChangedBefore = append(delta.ChangedBefore, Tree{XPath: childPath, Data: prev})
			delta.ChangedAfter = append(delta.ChangedAfter, Tree{XPath: childPath, Data: val})
		} else {
			delta.Added = append(delta.Added, Tree{XPath: childPath, Data: val})
		}
	}

	sortByXPath(delta.Deleted)
	sortByXPath(delta.Added)
	sortByXPath(delta.ChangedBefore)
	sortByXPath(delta.ChangedAfter)
	return delta, nil
}

func sortByXPath(trees []Tree) {
	sort.Slice(trees, func(i, j int) bool { return trees[i].XPath < trees[j].XPath })
}
