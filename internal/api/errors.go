package api

import "errors"

// ErrNoSuchOrder is returned when the server answers an order read without
// an order record.
var ErrNoSuchOrder = errors.New("order not found")
