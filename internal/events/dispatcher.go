package events

import (
	"fmt"
	"sync"
)

type Dispatcher interface {
	Register(eventType EventType, handler EventHandler) HandlerID
	Unregister(eventType EventType, handlerID HandlerID)
	Dispatch(event Event)
}

type HandlerID string

type handlerEntry struct {
	id      HandlerID
	handler EventHandler
}

type defaultDispatcher struct {
	handlers map[EventType][]handlerEntry
	tasks    *TaskSet
	mu       sync.RWMutex
	nextID   int64
}

// NewDispatcher returns a dispatcher that runs every handler invocation on
// tasks. A nil tasks gets a private TaskSet.
func NewDispatcher(tasks *TaskSet) Dispatcher {
	if tasks == nil {
		tasks = NewTaskSet("dispatcher")
	}
	return &defaultDispatcher{
		handlers: make(map[EventType][]handlerEntry),
		tasks:    tasks,
	}
}

func (d *defaultDispatcher) Register(eventType EventType, handler EventHandler) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := HandlerID(fmt.Sprintf("handler_%d", d.nextID))

	d.handlers[eventType] = append(d.handlers[eventType], handlerEntry{
		id:      id,
		handler: handler,
	})
	return id
}

func (d *defaultDispatcher) Unregister(eventType EventType, handlerID HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers, ok := d.handlers[eventType]
	if !ok {
		return
	}
	for i, entry := range handlers {
		if entry.id == handlerID {
			d.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			break
		}
	}
	if len(d.handlers[eventType]) == 0 {
		delete(d.handlers, eventType)
	}
}

func (d *defaultDispatcher) Dispatch(event Event) {
	d.mu.RLock()
	matched := make([]EventHandler, 0, len(d.handlers[event.Type])+len(d.handlers[EventAll]))
	for _, entry := range d.handlers[event.Type] {
		matched = append(matched, entry.handler)
	}
	if event.Type != EventAll {
		for _, entry := range d.handlers[EventAll] {
			matched = append(matched, entry.handler)
		}
	}
	d.mu.RUnlock()

	for _, h := range matched {
		h := h
		d.tasks.Go(string(event.Type), func() { h(event) })
	}
}
