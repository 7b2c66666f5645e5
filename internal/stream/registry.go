package stream

import (
	"maps"
	"sync"

	"github.com/samber/lo"

	"roomit/internal/domain"
)

const DefaultCacheSize = 50

// Registry mapea cada destinatario a su única conexión viva y guarda una ventana
// acotada de eventos recientes para reconexiones con Last-Event-ID.
// Es seguro para uso concurrente desde handlers y el barrido de heartbeats.
type Registry struct {
	mu        sync.RWMutex
	emitters  map[domain.Recipient]*Emitter
	cache     map[domain.Recipient][]Event
	cacheSize int
}

func NewRegistry(cacheSize int) *Registry {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Registry{
		emitters:  make(map[domain.Recipient]*Emitter),
		cache:     make(map[domain.Recipient][]Event),
		cacheSize: cacheSize,
	}
}

// Save registra la conexión y devuelve la anterior, si había. El registro no la cierra.
func (r *Registry) Save(key domain.Recipient, e *Emitter) *Emitter {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.emitters[key]
	r.emitters[key] = e
	if prev == e {
		return nil
	}
	return prev
}

func (r *Registry) Get(key domain.Recipient) (*Emitter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.emitters[key]
	return e, ok
}

func (r *Registry) Delete(key domain.Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.emitters, key)
}

// DeleteIf borra la entrada solo si sigue apuntando a e, así una conexión reemplazada
// no puede desregistrar a su sucesora.
func (r *Registry) DeleteIf(key domain.Recipient, e *Emitter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.emitters[key]; ok && current == e {
		delete(r.emitters, key)
		return true
	}
	return false
}

// ListAll devuelve una copia puntual del registro.
func (r *Registry) ListAll() map[domain.Recipient]*Emitter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.emitters)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.emitters)
}

// CacheEvent agrega el evento a la ventana del destinatario, descartando los más viejos.
func (r *Registry) CacheEvent(key domain.Recipient, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := append(r.cache[key], ev)
	if over := len(events) - r.cacheSize; over > 0 {
		events = append([]Event(nil), events[over:]...)
	}
	r.cache[key] = events
}

// CachedEventsAfter devuelve los eventos cacheados con id posterior a lastEventID.
// Sin lastEventID no hay nada que reenviar.
func (r *Registry) CachedEventsAfter(key domain.Recipient, lastEventID string) []Event {
	last := sequence(lastEventID)
	if last <= 0 {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(r.cache[key], func(ev Event, _ int) bool {
		return sequence(ev.ID) > last
	})
}

func (r *Registry) EvictCache(key domain.Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, key)
}

// CloseAll completa todas las conexiones y vacía el registro. Se usa al apagar el proceso.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	emitters := r.emitters
	r.emitters = make(map[domain.Recipient]*Emitter)
	r.cache = make(map[domain.Recipient][]Event)
	r.mu.Unlock()

	for _, e := range emitters {
		e.Complete()
	}
	return len(emitters)
}
