package http

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"roomit/internal/stream"
)

// sseWriter escribe eventos del stream como frames SSE y hace flush después de cada uno.
type sseWriter struct {
	w gin.ResponseWriter
}

func newSSEWriter(w gin.ResponseWriter) *sseWriter {
	header := w.Header()
	header.Set("Content-Type", sse.ContentType)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()
	return &sseWriter{w: w}
}

func (s *sseWriter) WriteEvent(ev stream.Event) error {
	if ev.IsComment() {
		if _, err := fmt.Fprintf(s.w, ": %s\n\n", ev.Comment); err != nil {
			return err
		}
	} else {
		err := sse.Encode(s.w, sse.Event{
			Id:    ev.ID,
			Event: ev.Name,
			Data:  ev.Data,
		})
		if err != nil {
			return err
		}
	}
	s.w.Flush()
	return nil
}
