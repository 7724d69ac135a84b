package gateway

import "errors"

var errMissingToken = errors.New("gateway: missing JWT token")
