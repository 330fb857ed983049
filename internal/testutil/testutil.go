// Package testutil provides test helpers for kpt:
//   - Miniredis helpers for redis-backed code (miniredis.go)
//   - A fake ClickHouse HTTP interface (clickhouse.go)
//
// Neither needs Docker.
package testutil
