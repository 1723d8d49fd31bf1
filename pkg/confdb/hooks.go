package confdb

// ListenerFuncs adapts optional callbacks to the Listener interface.
type ListenerFuncs struct {
	Load   func()
	Unload func()
	Change func(changes []Change)
	Update func(obj *Object, attr string)
}

// OnLoad implements Listener.
func (f ListenerFuncs) OnLoad() {
	if f.Load != nil {
		f.Load()
	}
}

// OnUnload implements Listener.
func (f ListenerFuncs) OnUnload() {
	if f.Unload != nil {
		f.Unload()
	}
}

// OnChange implements Listener.
func (f ListenerFuncs) OnChange(changes []Change) {
	if f.Change != nil {
		f.Change(changes)
	}
}

// OnUpdate implements Listener.
func (f ListenerFuncs) OnUpdate(obj *Object, attr string) {
	if f.Update != nil {
		f.Update(obj, attr)
	}
}

// Invalidator returns a listener calling fn for every kind of notification.
func Invalidator(fn func()) Listener {
	return ListenerFuncs{
		Load:   fn,
		Unload: fn,
		Change: func([]Change) { fn() },
		Update: func(*Object, string) { fn() },
	}
}
