// Package match implements the structural matching engine.
//
// A matcher tree is a mix of plain data (objects, arrays, strings, numbers,
// booleans, null) and matcher nodes: JSON objects tagged with a kind under
// the "_match" key. Three recursive operations run over a tree:
//
//   - Check compares actual data against the tree and returns every
//     mismatch it finds, each tagged with its location.
//   - Strip reduces the tree to canonical example data.
//   - Describe renders the tree as human-readable text.
//
// Each matcher kind is served by an Executor found in a Registry. Executors
// recurse into their children through the Descend* methods on Context, which
// extend the location path and keep the traversal going through the
// registry, so built-in and plugin matchers are indistinguishable.
//
// CONTEXT:
//
// Context is a value. Every descent returns a copy with a longer location;
// nothing is ever mutated in place, so concurrent sub-checks share no
// traversal state. The only shared mutable state is the Tables instance
// (lookup matchers and provider-state variables), which is guarded by its
// own lock.
//
// MATCH FIDELITY:
//
// MatchBy selects between shape matching (type) and value matching
// (exact). Plain data obeys the context's MatchBy. The cascading-type and
// cascading-exact kinds switch MatchBy for their whole subtree; the Any*
// constructors are built on cascading-type.
package match
