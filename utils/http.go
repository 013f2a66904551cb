// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by outbound calls to the alert webhook and the payout
// service.
var HTTPClient = &http.Client{
	Timeout: 15 * time.Second,
}
