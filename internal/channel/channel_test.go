package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendRecvInfo_RoundTrip(t *testing.T) {
	a, err := New("a")
	require.NoError(t, err)
	defer a.Close()

	b, err := New("b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Connect(b.Endpoint, "b"))
	require.NoError(t, a.SendInfo("hello", "b"))

	payload, err := b.RecvInfo(a.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", payload)
}

func TestConnect_IsIdempotent(t *testing.T) {
	a, err := New("a")
	require.NoError(t, err)
	defer a.Close()

	b, err := New("b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Connect(b.Endpoint, "b"))
	require.NoError(t, a.Connect(b.Endpoint, "b"))
	require.Len(t, a.dealers, 1)
}

func TestRecvInfo_BuffersOtherOrigins(t *testing.T) {
	a, err := New("a")
	require.NoError(t, err)
	defer a.Close()

	b, err := New("b")
	require.NoError(t, err)
	defer b.Close()

	c, err := New("c")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, b.Connect(a.Endpoint, "a"))
	require.NoError(t, c.Connect(a.Endpoint, "a"))

	require.NoError(t, b.SendInfo("from-b", "a"))
	require.NoError(t, c.SendInfo("from-c", "a"))

	time.Sleep(50 * time.Millisecond)

	fromC, err := a.RecvInfo("c")
	require.NoError(t, err)
	require.Equal(t, "from-c", fromC)

	fromB, err := a.RecvInfo("b")
	require.NoError(t, err)
	require.Equal(t, "from-b", fromB)
}

func TestSendMeasureRecvMeasure(t *testing.T) {
	a, err := New("a")
	require.NoError(t, err)
	defer a.Close()

	b, err := New("b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Connect(b.Endpoint, "b"))
	require.NoError(t, a.SendMeasure(1, "b"))

	bit, err := b.RecvMeasure(a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, bit)
}
