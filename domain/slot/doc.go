// Package slot implements the generational slot store: a positionally
// stable container addressed through 64-bit (index, generation) handles.
// Removed cells become tombstones and are reused in LIFO order; each reuse
// bumps the cell's generation, so handles held across a removal detect
// their own staleness instead of aliasing the new occupant.
//
// The store is strictly single-writer. The concurrent reservation and
// deferred-commit machinery lives in infra/reserve, infra/cmdlog, and the
// service package; this package only exposes the owner-side hooks they
// need (free-stack snapshots, positional inserts, epoch trims).
package slot
