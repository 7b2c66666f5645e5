package stream

import (
	"strconv"
	"strings"
)

const (
	EventConnected    = "connected"
	EventNotification = "notification"
)

// Event es un frame del stream: un dato con nombre e id, o un comentario (heartbeat).
type Event struct {
	ID      string
	Name    string
	Data    any
	Comment string
}

func (e Event) IsComment() bool {
	return e.Comment != "" && e.Data == nil
}

// Heartbeat arma el comentario que usa el barrido de conexiones.
func Heartbeat() Event {
	return Event{Comment: "Heartbeat"}
}

// EventWriter escribe eventos sobre el transporte dueño de la conexión.
type EventWriter interface {
	WriteEvent(ev Event) error
}

// sequence extrae el número de secuencia de un id de evento; ids no numéricos valen 0.
func sequence(id string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
