package bytecode

// Env is the environment of one activation.
//
// It binds the entered function's parameters to the call's arguments and
// each of the function's children to a Func value bound in this Env.
// Lookup consults this activation's parameters, then its children, then the
// children (never the parameters) of each enclosing Env outward.
type Env struct {
	fn     *Function
	args   []Value
	parent *Env
}

// NewEnv creates the environment for an activation of fn. args must match
// fn.Params positionally; parent is the Env the callee was bound in.
func NewEnv(fn *Function, args []Value, parent *Env) *Env {
	return &Env{fn: fn, args: args, parent: parent}
}

// Function returns the function this activation runs.
func (e *Env) Function() *Function { return e.fn }

// Parent returns the enclosing lexical environment, or nil.
func (e *Env) Parent() *Env { return e.parent }

// Lookup resolves name.
func (e *Env) Lookup(name string) (Value, bool) {
	// A parameter shadows a child of the same name.
	for i := len(e.fn.Params) - 1; i >= 0; i-- {
		if e.fn.Params[i] == name && i < len(e.args) {
			return e.args[i], true
		}
	}
	for s := e; s != nil; s = s.parent {
		if child := s.fn.Child(name); child != nil {
			return FuncValue(child, s), true
		}
	}
	return Nil, false
}

// Bindings returns the names visible from e, innermost first. It is used
// by diagnostics.
func (e *Env) Bindings() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, p := range e.fn.Params {
		add(p)
	}
	for s := e; s != nil; s = s.parent {
		for _, c := range s.fn.Children {
			add(c.Name)
		}
	}
	return names
}

// Depth returns the number of lexical levels from e to the outermost Env.
func (e *Env) Depth() int {
	d := 0
	for s := e.parent; s != nil; s = s.parent {
		d++
	}
	return d
}
