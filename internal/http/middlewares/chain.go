package middlewares

import "net/http"

// Middleware envuelve un http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain compone middlewares alrededor de h. El primero de la lista queda
// más afuera: Chain(h, reqID, logging, auth) atiende en ese orden.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// ChainFunc es Chain para un http.HandlerFunc.
func ChainFunc(hf http.HandlerFunc, mws ...Middleware) http.Handler {
	return Chain(hf, mws...)
}
