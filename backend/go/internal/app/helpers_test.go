package app

import "Steward/backend/go/internal/dispatcher"

func dispatchRequest(msg string) dispatcher.Request {
	return dispatcher.Request{Message: msg, Source: "test"}
}
