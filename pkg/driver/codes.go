package driver

import (
	"errors"
	"fmt"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/satchel/pkg/types"
)

// Code is an engine result code. The values mirror the SQLite result
// codes so driver errors can carry them through unchanged.
type Code int

// Result codes surfaced by the driver.
const (
	OK     Code = sqlite3.SQLITE_OK
	Fail   Code = sqlite3.SQLITE_ERROR
	Busy   Code = sqlite3.SQLITE_BUSY
	Row    Code = sqlite3.SQLITE_ROW
	Done   Code = sqlite3.SQLITE_DONE
	Misuse Code = sqlite3.SQLITE_MISUSE
)

// String returns the conventional name of the code.
func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Fail:
		return "ERROR"
	case Busy:
		return "BUSY"
	case Row:
		return "ROW"
	case Done:
		return "DONE"
	case Misuse:
		return "MISUSE"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Confirm returns nil when code is OK or in the acceptable set, and a
// DriverError naming op otherwise.
func Confirm(op string, code Code, acceptable ...Code) error {
	if code == OK {
		return nil
	}
	for _, a := range acceptable {
		if code == a {
			return nil
		}
	}
	return &types.DriverError{Op: op, Code: int(code)}
}

// errCode extracts the primary result code from an engine error. BUSY and
// LOCKED both map to Busy; anything unrecognized maps to Fail.
func errCode(err error) Code {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return Busy
		default:
			return Code(se.Code() & 0xff)
		}
	}
	return Fail
}

// driverErr wraps an engine error with its extracted code.
func driverErr(op string, err error) error {
	return &types.DriverError{Op: op, Code: int(errCode(err)), Err: err}
}
