package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrDuplicate is returned when an insert hits a unique constraint
// (subscriber email, idempotency key, delivery-queue pair).
var ErrDuplicate = errors.New("duplicate row")

// mysql error 1062: ER_DUP_ENTRY
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
