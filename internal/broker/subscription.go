package broker

import "strings"

// trieNode is one node of the wildcard subscription tree. children is keyed
// by a literal segment, "+", or "#"; data holds the client ids subscribed
// through this node, keyed by the token returned at insert.
type trieNode struct {
	children map[string]*trieNode
	data     map[uint64]string
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode), data: make(map[uint64]string)}
}

// SubscriptionIndex maps topic filters to subscribing client ids. Exact
// (wildcard-free) filters live in a flat hash map; filters containing `+` or
// `#` live in a trie keyed by segment. The router is the sole owner — no
// locking needed since nothing else ever touches it.
type SubscriptionIndex struct {
	exact     map[string]map[string]struct{}
	wildcard  *trieNode
	nextToken uint64
}

// Token identifies one (filter, client id) entry in the wildcard trie.
// Required by Remove; returned by Insert. Unique for the tree's lifetime.
type Token uint64

func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		exact:    make(map[string]map[string]struct{}),
		wildcard: newTrieNode(),
	}
}

// AddExact records clientID under a wildcard-free filter.
func (idx *SubscriptionIndex) AddExact(filter, clientID string) {
	set, ok := idx.exact[filter]
	if !ok {
		set = make(map[string]struct{})
		idx.exact[filter] = set
	}
	set[clientID] = struct{}{}
}

// RemoveExact drops clientID from a wildcard-free filter, pruning the filter
// entry entirely once its subscriber set is empty.
func (idx *SubscriptionIndex) RemoveExact(filter, clientID string) {
	set, ok := idx.exact[filter]
	if !ok {
		return
	}
	delete(set, clientID)
	if len(set) == 0 {
		delete(idx.exact, filter)
	}
}

// Insert adds (filter, clientID) to the wildcard trie and returns the token
// needed to remove it again.
func (idx *SubscriptionIndex) Insert(filter, clientID string) Token {
	segments := strings.Split(filter, "/")
	n := idx.wildcard
	for _, seg := range segments {
		child, ok := n.children[seg]
		if !ok {
			child = newTrieNode()
			n.children[seg] = child
		}
		n = child
	}
	idx.nextToken++
	tok := idx.nextToken
	n.data[tok] = clientID
	return Token(tok)
}

// Remove walks filter back down to its terminal node, drops tok, and unwinds
// the path deleting any node left with no children and no data.
func (idx *SubscriptionIndex) Remove(filter string, tok Token) {
	segments := strings.Split(filter, "/")
	path := make([]*trieNode, 0, len(segments)+1)
	path = append(path, idx.wildcard)
	n := idx.wildcard
	for _, seg := range segments {
		child, ok := n.children[seg]
		if !ok {
			return
		}
		path = append(path, child)
		n = child
	}
	delete(n.data, uint64(tok))

	for i := len(path) - 1; i > 0; i-- {
		leaf := path[i]
		if len(leaf.children) != 0 || len(leaf.data) != 0 {
			break
		}
		parent := path[i-1]
		for seg, child := range parent.children {
			if child == leaf {
				delete(parent.children, seg)
				break
			}
		}
	}
}

// Match returns the client ids subscribed — through either the exact map or
// the wildcard trie — to filters matching topic. A client subscribed via
// more than one matching filter appears once.
func (idx *SubscriptionIndex) Match(topic string) []string {
	seen := make(map[string]struct{})
	if set, ok := idx.exact[topic]; ok {
		for cid := range set {
			seen[cid] = struct{}{}
		}
	}

	segments := strings.Split(topic, "/")
	rootIsDollar := strings.HasPrefix(topic, "$")
	var collected []string
	idx.wildcard.match(segments, rootIsDollar, &collected)
	for _, cid := range collected {
		seen[cid] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for cid := range seen {
		out = append(out, cid)
	}
	return out
}

// match is the recursive DFS over the trie. skipWildcard is true only at
// the root when topic begins with `$` — broker-internal topics are never
// reached by a `+` or `#` subscribed at the root, but nested wildcards below
// a literal first segment (e.g. "$SYS/+/uptime") behave normally.
func (n *trieNode) match(segments []string, skipWildcard bool, out *[]string) {
	if !skipWildcard {
		if hash, ok := n.children["#"]; ok {
			for _, cid := range hash.data {
				*out = append(*out, cid)
			}
		}
	}

	if len(segments) == 0 {
		for _, cid := range n.data {
			*out = append(*out, cid)
		}
		return
	}

	seg, rest := segments[0], segments[1:]
	if child, ok := n.children[seg]; ok {
		child.match(rest, false, out)
	}
	if !skipWildcard {
		if child, ok := n.children["+"]; ok {
			child.match(rest, false, out)
		}
	}
}
