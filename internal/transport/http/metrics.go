package httptransport

import "expvar"

var errorResponses = expvar.NewMap("http_error_responses_total")
