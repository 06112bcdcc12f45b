package config

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.starlark.net/starlark"
)

// StarlarkFunctor adapts a user-supplied Starlark script to the
// tree's projection interface. The script must define f(x) taking a
// list of coordinates and returning a number:
//
//	def f(x):
//	    return math_exp(-(x[0]*x[0] + x[1]*x[1]))
//
// A small math environment (math_exp, math_sin, math_cos, math_sqrt,
// pi) is predeclared. Threads are pooled because projection evaluates
// the functor from many tasks at once.
type StarlarkFunctor struct {
	fn starlark.Callable

	mu      sync.Mutex
	threads []*starlark.Thread
}

// NewStarlarkFunctor compiles script and resolves the f global.
func NewStarlarkFunctor(script string) (*StarlarkFunctor, error) {
	thread := &starlark.Thread{
		Name: "functor",
		Print: func(_ *starlark.Thread, msg string) {
			// Scripts are pure functions; swallow print.
		},
	}
	globals, err := starlark.ExecFile(thread, "functor.star", script, predeclaredMath())
	if err != nil {
		return nil, fmt.Errorf("functor script failed: %w", err)
	}
	fn, ok := globals["f"]
	if !ok {
		return nil, fmt.Errorf("functor script does not define f")
	}
	callable, ok := fn.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("f is not callable")
	}
	return &StarlarkFunctor{fn: callable}, nil
}

// Eval implements the projection interface for real trees.
func (s *StarlarkFunctor) Eval(x []float64) float64 {
	thread := s.getThread()
	defer s.putThread(thread)

	coords := make([]starlark.Value, len(x))
	for i, v := range x {
		coords[i] = starlark.Float(v)
	}
	res, err := starlark.Call(thread, s.fn, starlark.Tuple{starlark.NewList(coords)}, nil)
	if err != nil {
		// A throwing functor poisons every box it touches; surface it
		// loudly rather than projecting garbage.
		panic(fmt.Sprintf("starlark functor failed: %v", err))
	}
	f, ok := starlark.AsFloat(res)
	if !ok {
		panic(fmt.Sprintf("starlark functor returned %s, want a number", res.Type()))
	}
	return f
}

func (s *StarlarkFunctor) getThread() *starlark.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.threads); n > 0 {
		t := s.threads[n-1]
		s.threads = s.threads[:n-1]
		return t
	}
	return &starlark.Thread{Name: fmt.Sprintf("functor-%d", time.Now().UnixNano())}
}

func (s *StarlarkFunctor) putThread(t *starlark.Thread) {
	s.mu.Lock()
	s.threads = append(s.threads, t)
	s.mu.Unlock()
}

func predeclaredMath() starlark.StringDict {
	unary := func(name string, fn func(float64) float64) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var x float64
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
				return nil, err
			}
			return starlark.Float(fn(x)), nil
		})
	}
	return starlark.StringDict{
		"math_exp":  unary("math_exp", math.Exp),
		"math_sin":  unary("math_sin", math.Sin),
		"math_cos":  unary("math_cos", math.Cos),
		"math_sqrt": unary("math_sqrt", math.Sqrt),
		"pi":        starlark.Float(math.Pi),
	}
}
