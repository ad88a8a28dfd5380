package client

import "sync"

// Observer receives raw connection lifecycle events. Calls are synchronous
// and made in registration order.
type Observer interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose(code int, reason string)
	OnFailure(err error)
}

// ObserverFuncs adapts plain functions to Observer; nil fields are skipped
type ObserverFuncs struct {
	Open    func()
	Message func(data []byte)
	Close   func(code int, reason string)
	Failure func(err error)
}

func (f ObserverFuncs) OnOpen() {
	if f.Open != nil {
		f.Open()
	}
}

func (f ObserverFuncs) OnMessage(data []byte) {
	if f.Message != nil {
		f.Message(data)
	}
}

func (f ObserverFuncs) OnClose(code int, reason string) {
	if f.Close != nil {
		f.Close(code, reason)
	}
}

func (f ObserverFuncs) OnFailure(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

type observerEntry struct {
	id       int
	observer Observer
}

type observerList struct {
	mu      sync.RWMutex
	nextID  int
	entries []observerEntry
}

func (l *observerList) add(o Observer) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.entries = append(l.entries, observerEntry{id: l.nextID, observer: o})
	return l.nextID
}

func (l *observerList) remove(id int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (l *observerList) snapshot() []observerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries
}

func (l *observerList) open() {
	for _, e := range l.snapshot() {
		e.observer.OnOpen()
	}
}

func (l *observerList) message(data []byte) {
	for _, e := range l.snapshot() {
		e.observer.OnMessage(data)
	}
}

func (l *observerList) close(code int, reason string) {
	for _, e := range l.snapshot() {
		e.observer.OnClose(code, reason)
	}
}

func (l *observerList) failure(err error) {
	for _, e := range l.snapshot() {
		e.observer.OnFailure(err)
	}
}
