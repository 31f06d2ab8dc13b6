package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/anonto42/nano-midea/fanout/internal/paths"
)

// leaf is one scalar stored at a full path. Backends that keep a flat key
// space store the tree as a set of leaves and rebuild objects on read.
type leaf struct {
	path string
	raw  []byte
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "/" + key
}

// subtreeRange returns the half-open key range holding every descendant of
// p. '0' is the byte following '/', so [p/, p0) is exactly the subtree.
// The root has no bounds.
func subtreeRange(p string) (lo, hi string) {
	if p == "" {
		return "", ""
	}
	return p + "/", p + "0"
}

// ancestors lists every proper ancestor of p, nearest last.
func ancestors(p string) []string {
	var out []string
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[:i])
		}
	}
	return out
}

// flatten encodes v and splits it into leaves under base. Objects with no
// leaves and nulls produce nothing, so writing them deletes the location.
func flatten(base string, v interface{}) ([]leaf, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	var out []leaf
	if err := walk(base, tree, &out); err != nil {
		return nil, err
	}
	if base == "" && len(out) == 1 && out[0].path == "" {
		return nil, fmt.Errorf("the root can only hold an object")
	}
	return out, nil
}

func walk(p string, node interface{}, out *[]leaf) error {
	switch n := node.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		for k, child := range n {
			if err := paths.CheckKey(k); err != nil {
				return err
			}
			if err := walk(joinPath(p, k), child, out); err != nil {
				return err
			}
		}
		return nil
	case []interface{}:
		for i, child := range n {
			if err := walk(joinPath(p, strconv.Itoa(i)), child, out); err != nil {
				return err
			}
		}
		return nil
	default:
		raw, err := json.Marshal(n)
		if err != nil {
			return err
		}
		*out = append(*out, leaf{path: p, raw: raw})
		return nil
	}
}

// rebuild assembles the value at base from the leaves at or below it.
func rebuild(base string, leaves []leaf) (Value, error) {
	if len(leaves) == 0 {
		return nil, nil
	}
	root := map[string]interface{}{}
	for _, l := range leaves {
		if l.path == base {
			// a scalar at base shadows anything below it; writes keep the
			// two from coexisting.
			return Value(l.raw), nil
		}
		rel := l.path
		if base != "" {
			rel = strings.TrimPrefix(l.path, base+"/")
		}
		insert(root, strings.Split(rel, "/"), json.RawMessage(l.raw))
	}
	raw, err := json.Marshal(root)
	if err != nil {
		return nil, err
	}
	return Value(raw), nil
}

func insert(node map[string]interface{}, segs []string, raw json.RawMessage) {
	for len(segs) > 1 {
		next, ok := node[segs[0]].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			node[segs[0]] = next
		}
		node = next
		segs = segs[1:]
	}
	node[segs[0]] = raw
}

// group splits the leaves below base by direct child and rebuilds each
// child, returning them in key order.
func group(base string, leaves []leaf) ([]Child, error) {
	byKey := map[string][]leaf{}
	prefix := ""
	if base != "" {
		prefix = base + "/"
	}
	for _, l := range leaves {
		if !strings.HasPrefix(l.path, prefix) || l.path == base {
			continue
		}
		rel := l.path[len(prefix):]
		key := rel
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			key = rel[:i]
		}
		byKey[key] = append(byKey[key], l)
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Child, 0, len(keys))
	for _, k := range keys {
		v, err := rebuild(prefix+k, byKey[k])
		if err != nil {
			return nil, err
		}
		out = append(out, Child{Key: k, Value: v})
	}
	return out, nil
}
