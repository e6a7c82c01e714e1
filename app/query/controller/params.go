package controller

import (
	"math"
	"net/http"
	"strconv"
)

type rangeSpec struct {
	From uint64
	To   uint64
}

// parseRange reads from and to; a missing to means no upper bound.
func parseRange(r *http.Request) (rangeSpec, error) {
	qs := r.URL.Query()
	spec := rangeSpec{To: math.MaxUint64}

	if v := qs.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return rangeSpec{}, errInvalidFrom
		}
		spec.From = n
	}
	if v := qs.Get("to"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return rangeSpec{}, errInvalidTo
		}
		spec.To = n
	}
	if spec.From > spec.To {
		return rangeSpec{}, errInvalidRange
	}
	return spec, nil
}

func parseBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &parseError{msg: "invalid " + key}
	}
	return b, nil
}

var (
	errInvalidFrom  = &parseError{msg: "invalid from"}
	errInvalidTo    = &parseError{msg: "invalid to"}
	errInvalidRange = &parseError{msg: "from must not be above to"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
