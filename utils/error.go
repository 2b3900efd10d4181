package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrValidation wraps request validation failures; nothing is written when it is returned.
var ErrValidation = errors.New("validation failed")

// ErrEnqueueFailed means the records were committed but the generation job could not be published.
var ErrEnqueueFailed = errors.New("enqueue diploma job failed")
