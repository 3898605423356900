// Package lists manages saved voter lists. A list stores a query
// definition, never materialized rows: running a list re-executes its SQL
// so results always reflect current warehouse data. Deletes are soft, and
// recently deleted ids are remembered briefly so a stale reference can be
// answered with "that list was just deleted" instead of a bare not-found.
package lists
