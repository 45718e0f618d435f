/*
Package chaindb implements a blockchain-state storage driver on top of a
document store (in this case, MongoDB, with embedded alternatives for tests
and single-node deployments).

We implement:

1. Cursors, a lazy index-range API over named tables with multiple secondary
indexes: lower/upper bound, locate, begin, end, next, prev, current, clone.

2. A journal-driven bulk-write pipeline that applies pending mutations
(insert/update/remove/revision) per table, bracketed by undo-table writes.

3. Index and schema reconciliation: creating, dropping and listing indexes so
that the logical (name, unique, ordered fields) definition round-trips through
the store's physical conventions.

# Technical Details

**Databases and collections.**
Every code (account namespace) maps to one database named
<sysPrefix><codeName>; every table maps to one collection. Scoped tables keep
all scopes of a code in the same collection and carry the scope in a service
sub-document; range scans stop at the scope boundary.

**Service header.**
Each stored row carries a _SERVICE_ sub-document with {scope, rev, payer};
rows of noscope tables carry no scope.
The primary key lives in the row itself and is extracted through the
schema-provided pk order path.

**Indexes.**
A non-unique index gets the pk field appended as a tie-breaker at creation
time, and the tie-breaker is popped again when the logical definition is
reconstructed from the store. uint128/int128 fields store a byte-ordered
16-byte blob under <field>.binary, and queries address that sub-path.

**Half-open bounds.**
Range positioning uses the store's min/max semantics: the boundary row is
included for forward scans and excluded for backward scans. upper_bound is
built from this asymmetry (open backward at the key, step forward, skip the
key itself).

**Write pipeline.**
Pending operations coalesce into per-table groups in journal order. Each
group executes as two unordered bulk writes against the same collection:
removes first, then update/revision/insert, so deleted pks can be reused by
inserts within one apply cycle. Duplicate-key failures are sticky and
surface once after all groups have run.
*/
package chaindb
