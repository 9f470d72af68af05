package service

import "errors"

var ErrInvalidWindow = errors.New("invalid reconcile window")
