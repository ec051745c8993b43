package datastore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransactionInProgress   = errors.New("transaction already in progress")
	ErrNoTransactionInProgress = errors.New("no transaction in progress")
	ErrNoAdapter               = errors.New("no server adapter")
	ErrReservedStoreID         = errors.New("store id 0 is reserved for restored state")
	ErrFinalTransaction        = errors.New("transaction is at or below the compaction horizon")
	ErrClosed                  = errors.New("datastore closed")
)

// SchemaValidationError lists every problem found in the schemas a datastore
// was constructed with.
type SchemaValidationError struct {
	Errors []string
}

func (e *SchemaValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid schema: " + e.Errors[0]
	}
	return fmt.Sprintf("%d schema errors: %s", len(e.Errors), strings.Join(e.Errors, "; "))
}

// TransactionStateError reports an operation invoked in the wrong transaction
// state. It matches ErrTransactionInProgress, ErrNoTransactionInProgress or
// ErrFinalTransaction with errors.Is.
type TransactionStateError struct {
	Op  string
	Err error
}

func txStateErr(op string, err error) error {
	return &TransactionStateError{op, err}
}

func (e *TransactionStateError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransactionStateError) Unwrap() error {
	return e.Err
}

type UnknownSchemaError struct {
	SchemaID string
}

func (e *UnknownSchemaError) Error() string {
	return fmt.Sprintf("unknown schema %q", e.SchemaID)
}

// MissingTableError describes a remote transaction that references a schema
// this datastore does not have. Such transactions are discarded as a whole.
type MissingTableError struct {
	TransactionID string
	SchemaID      string
}

func (e *MissingTableError) Error() string {
	return fmt.Sprintf("transaction %s references missing table %q", e.TransactionID, e.SchemaID)
}

// RecordError reports a problem with an update or patch of one record field.
type RecordError struct {
	SchemaID string
	RecordID string
	Field    string
	Msg      string
	Err      error
}

func recordErrf(schemaID, recordID, fieldName string, err error, format string, args ...any) error {
	return &RecordError{schemaID, recordID, fieldName, fmt.Sprintf(format, args...), err}
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.SchemaID)
	if e.RecordID != "" {
		buf.WriteByte('/')
		buf.WriteString(e.RecordID)
	}
	if e.Field != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Field)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// DataError reports undecodable wire or state data.
type DataError struct {
	Data []byte
	Err  error
	Msg  string
}

func dataErrf(data []byte, err error, format string, args ...any) error {
	return &DataError{data, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	var data string
	if n <= prefixLen+suffixLen {
		data = fmt.Sprintf("(%d) %x", n, e.Data)
	} else {
		data = fmt.Sprintf("(%d) %x...%x", n, e.Data[:prefixLen], e.Data[n-suffixLen:])
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %s", e.Msg, e.Err, data)
	}
	return fmt.Sprintf("%s: %s", e.Msg, data)
}
