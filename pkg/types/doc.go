// Package types defines the shared vocabulary of the satchel entity
// manager: field kinds and definitions, key specifiers, sentinel errors,
// the BUSY retry policy, and the optional JSON codec interface.
//
// The package has no dependencies on the driver or the manager core so
// that applications can declare schemas without pulling in the engine.
package types
