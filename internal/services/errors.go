package services

import (
	"errors"

	"github.com/markdave123-py/sopassistant/internal/common"
)

var errInvalidMode = common.Invalid("mode", "must be standard or expert")

func isNotFound(err error) bool { return errors.Is(err, common.ErrNotFound) }
