package handler

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/messagebus/internal/publication"
	"github.com/dshills/messagebus/internal/typeinfo"
)

type Base struct{ ID int }

type Derived struct {
	Base
}

type recorder struct {
	mu   sync.Mutex
	seen []any
}

func (r *recorder) record(v ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, v...)
}

type methodListener struct {
	recorder
}

func (l *methodListener) HandleString(s string) { l.record(s) }
func (l *methodListener) HandlePair(a, b int) error { l.record(a, b); return nil }
func (l *methodListener) HandleFail(f float64) error { return errors.New("failed") }
func (l *methodListener) HandleBase(b *Base) { l.record(b.ID) }
func (l *methodListener) HandleSkipped(bool) {}
func (l *methodListener) HandleWrongReturn(string) int { return 0 }
func (l *methodListener) HandleNothing() {}
func (l *methodListener) HandleMany(a, b, c, d string) {}
func (l *methodListener) HandleVariadic(a ...string) {}
func (l *methodListener) Process(string) {}
func (l *methodListener) HandlerOptions() map[string][]Option {
	return map[string][]Option{
		"HandleString":  {Serialized(), RejectSubtypes()},
		"HandleSkipped": {Disabled()},
	}
}

type overridingListener struct {
	methodListener
}

func (l *overridingListener) HandleString(s string) { l.record("override:" + s) }

type providerListener struct {
	recorder
}

func (l *providerListener) onBase(b Base) error { l.record(b.ID); return nil }

func (l *providerListener) onTriple(a string, b int, c bool) error {
	l.record(a, b, c)
	return nil
}

func (l *providerListener) MessageHandlers() []*Descriptor {
	return []*Descriptor{
		Func1((*providerListener).onBase),
		Func3((*providerListener).onTriple, Serialized()),
		Func1(func(*providerListener, string) error { return nil }, Disabled()),
	}
}

type wrongProvider struct{}

func (w *wrongProvider) MessageHandlers() []*Descriptor {
	return []*Descriptor{Func1((*providerListener).onBase)}
}

func args(t *testing.T, msgs ...any) publication.Args {
	t.Helper()
	a, err := publication.NewArgs(msgs...)
	require.NoError(t, err)
	return a
}

func byName(descs []*Descriptor, suffix string) *Descriptor {
	for _, d := range descs {
		if len(d.Name) >= len(suffix) && d.Name[len(d.Name)-len(suffix):] == suffix {
			return d
		}
	}
	return nil
}

func TestFunc1(t *testing.T) {
	l := &providerListener{}
	d := Func1((*providerListener).onBase)

	assert.True(t, d.AcceptsSubtypes)
	assert.True(t, d.Enabled)
	assert.False(t, d.Serialized)
	assert.Equal(t, reflect.TypeFor[*providerListener](), d.ListenerType)
	assert.Equal(t, typeinfo.NewSignature(reflect.TypeFor[Base]()), d.Signature)
	assert.Contains(t, d.Name, "onBase")

	require.NoError(t, d.Invoke(l, args(t, Base{ID: 1})))
	require.NoError(t, d.Invoke(l, args(t, Derived{Base: Base{ID: 2}})))
	assert.Equal(t, []any{1, 2}, l.seen)

	err := d.Invoke(l, args(t, "wrong"))
	assert.ErrorIs(t, err, typeinfo.ErrNotConvertible)

	err = d.Invoke(&methodListener{}, args(t, Base{}))
	assert.Error(t, err)
}

func TestFunc2AndFunc3(t *testing.T) {
	var got []any
	d2 := Func2(func(_ *recorder, a string, b int) error {
		got = append(got, a, b)
		return nil
	}, RejectSubtypes())
	assert.False(t, d2.AcceptsSubtypes)
	require.NoError(t, d2.Invoke(&recorder{}, args(t, "x", 1)))

	d3 := Func3(func(_ *recorder, a, b, c int) error {
		got = append(got, a+b+c)
		return nil
	})
	require.NoError(t, d3.Invoke(&recorder{}, args(t, 1, 2, 3)))
	assert.Equal(t, []any{"x", 1, 6}, got)
	assert.Equal(t, 3, d3.Signature.Len())
}

func TestExtractor_Discover(t *testing.T) {
	x := NewExtractor()
	l := &methodListener{}

	descs, err := x.Descriptors(l)
	require.NoError(t, err)
	require.Len(t, descs, 4)

	str := byName(descs, ".HandleString")
	require.NotNil(t, str)
	assert.True(t, str.Serialized)
	assert.False(t, str.AcceptsSubtypes)

	pair := byName(descs, ".HandlePair")
	require.NotNil(t, pair)
	assert.Equal(t, 2, pair.Signature.Len())
	require.NoError(t, pair.Invoke(l, args(t, 3, 4)))

	require.NoError(t, str.Invoke(l, args(t, "s")))
	assert.Equal(t, []any{3, 4, "s"}, l.seen)

	fail := byName(descs, ".HandleFail")
	require.NotNil(t, fail)
	assert.EqualError(t, fail.Invoke(l, args(t, 1.5)), "failed")

	baseHandler := byName(descs, ".HandleBase")
	require.NotNil(t, baseHandler)
	require.NoError(t, baseHandler.Invoke(l, args(t, &Derived{Base: Base{ID: 5}})))
	assert.Equal(t, 5, l.seen[len(l.seen)-1])

	again, err := x.Descriptors(&methodListener{})
	require.NoError(t, err)
	assert.Equal(t, descs, again)
}

func TestExtractor_OverrideInheritsOptions(t *testing.T) {
	x := NewExtractor()
	l := &overridingListener{}

	descs, err := x.Descriptors(l)
	require.NoError(t, err)

	str := byName(descs, ".HandleString")
	require.NotNil(t, str)
	assert.True(t, str.Serialized)
	assert.False(t, str.AcceptsSubtypes)

	require.NoError(t, str.Invoke(l, args(t, "a")))
	assert.Equal(t, []any{"override:a"}, l.seen)
}

func TestExtractor_Provider(t *testing.T) {
	x := NewExtractor()
	l := &providerListener{}

	descs, err := x.Descriptors(l)
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.True(t, descs[1].Serialized)

	require.NoError(t, descs[1].Invoke(l, args(t, "a", 1, true)))
	assert.Equal(t, []any{"a", 1, true}, l.seen)

	_, err = x.Descriptors(&wrongProvider{})
	assert.ErrorIs(t, err, ErrListenerMismatch)
}

func TestExtractor_NoHandlers(t *testing.T) {
	descs, err := NewExtractor().Descriptors(&recorder{})
	require.NoError(t, err)
	assert.Empty(t, descs)
}

func TestExecutor(t *testing.T) {
	var (
		observed int
		lastErr  error
	)
	e := NewExecutor(WithObserver(func(_ *Descriptor, elapsed time.Duration, err error) {
		observed++
		lastErr = err
		assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	}))

	ok := Func1(func(*recorder, int) error { return nil })
	require.NoError(t, e.Execute(ok, &recorder{}, args(t, 1)))

	panicking := Func1(func(*recorder, int) error { panic("boom") })
	err := e.Execute(panicking, &recorder{}, args(t, 1))
	var pe *publication.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	cancelling := Func1(func(*recorder, int) error {
		publication.Cancel()
		return nil
	})
	err = e.Execute(cancelling, &recorder{}, args(t, 1))
	assert.ErrorIs(t, err, publication.ErrCancel)
	assert.Equal(t, 3, observed)
	assert.ErrorIs(t, lastErr, publication.ErrCancel)

	quiet := NewExecutor(WithObserver(func(*Descriptor, time.Duration, error) { panic("observer") }))
	assert.NoError(t, quiet.Execute(ok, &recorder{}, args(t, 1)))
}
