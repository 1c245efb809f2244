// Package satchel is an in-process entity manager layered over embedded
// SQLite. Applications declare related tables at runtime, read and mutate
// rows as identity-mapped objects with typed fields and foreign-key
// navigation, and defer all database writes into a single atomic flush
// that drains dirty rows in cross-table dependency order.
//
// A Manager owns one database connection, the schema registry, the
// pending-change flag, and at most one transaction. Managers and
// everything reached through them are single-threaded by contract.
package satchel
