package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifyWithoutSubscribers(t *testing.T) {
	var b Bus[int]
	assert.NotPanics(t, func() { b.Notify(1) })
	assert.Equal(t, 0, b.Len())
}

func TestNotifyInRegistrationOrder(t *testing.T) {
	assert := assert.New(t)
	var b Bus[string]
	var got []string
	b.Subscribe(func(e string) { got = append(got, "first:"+e) })
	b.Subscribe(func(e string) { got = append(got, "second:"+e) })

	b.Notify("add")
	assert.Equal([]string{"first:add", "second:add"}, got)
}

func TestUnsubscribe(t *testing.T) {
	assert := assert.New(t)
	var b Bus[int]
	calls := 0
	unsubscribe := b.Subscribe(func(int) { calls++ })
	b.Notify(1)
	unsubscribe()
	unsubscribe()
	b.Notify(2)
	assert.Equal(1, calls)
	assert.Equal(0, b.Len())
}

func TestUnsubscribeDuringNotify(t *testing.T) {
	assert := assert.New(t)
	var b Bus[int]
	var got []string
	var unsubSecond func()
	b.Subscribe(func(int) {
		got = append(got, "a")
		unsubSecond()
	})
	unsubSecond = b.Subscribe(func(int) { got = append(got, "b") })

	b.Notify(1)
	b.Notify(2)
	assert.Equal([]string{"a", "b", "a"}, got)
	assert.Equal(1, b.Len())
}
