package normalize

import (
	"errors"
	"fmt"
)

// Sentinel kinds for row issues. Neither is ever returned as a failure;
// both are reported on Result.Issues.
var (
	// ErrMalformedRow means the posts_json blob could not be parsed and the
	// row was rebuilt from flat columns alone.
	ErrMalformedRow = errors.New("malformed roster row")
	// ErrSchemaDrift means a column was not recognised and was ignored.
	ErrSchemaDrift = errors.New("unrecognised column")
)

// Issue is a recovered problem with one row.
type Issue struct {
	Key string
	Err error
}

func (i Issue) Error() string { return fmt.Sprintf("%s: %v", i.Key, i.Err) }

// Unwrap lets errors.Is match the sentinel kind.
func (i Issue) Unwrap() error { return i.Err }
