package gateway

import (
	"errors"
	"net/http"
	"strconv"
)

var errOffline = errors.New("offline")

func httpStatus(code int) string {
	if text := http.StatusText(code); text != "" {
		return strconv.Itoa(code) + " " + text
	}
	return strconv.Itoa(code)
}
