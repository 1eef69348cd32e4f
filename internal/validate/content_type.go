// Package validate holds small checks shared by the HTTP backends.
package validate

import (
	"mime"
	"strings"

	"github.com/orsinium-labs/enum"
)

// ContentType is a media type without parameters.
type ContentType enum.Member[string]

var ContentTypeJSON = ContentType{Value: "application/json"}

// MediaType reports whether the Content-Type header value is one of
// allowed. Parameters such as charset are ignored and so is case.
func MediaType(header string, allowed ...ContentType) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(header))
	}

	for _, a := range allowed {
		if mediaType == a.Value {
			return true
		}
	}
	return false
}
