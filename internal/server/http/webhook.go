package httpserver

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/and161185/gofulcrum/internal/webhook"
)

type webhookHandler struct {
	dispatcher *webhook.Dispatcher
}

// serve answers POST /webhook/{name}/ with the dispatcher's plain text result.
func (h *webhookHandler) serve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "cannot read payload", http.StatusBadRequest)
		return
	}
	res := h.dispatcher.HandleBody(r.Context(), mux.Vars(r)["name"], body)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(res.Status)
	_, _ = io.WriteString(w, res.Body)
}
