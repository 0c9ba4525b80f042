package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestreldb/kestrel-go/protocol"
	"github.com/kestreldb/kestrel-go/testutil"
	"github.com/kestreldb/kestrel-go/transport"
)

func serverOptions(srv *testutil.Server) transport.Options {
	return transport.Options{
		Host:        srv.Host(),
		Port:        srv.Port(),
		User:        "alice",
		Database:    "appdb",
		DialTimeout: 5 * time.Second,
	}
}

func TestConnectHandshake(t *testing.T) {
	srv := testutil.NewServer(t)

	ch, err := transport.Connect(context.Background(), serverOptions(srv))
	require.NoError(t, err)
	defer ch.Close()

	assert.True(t, ch.IsAlive())
	assert.Equal(t, "16.0 (scripted)", ch.Parameter("server_version"))
	assert.NotZero(t, ch.BackendKey().PID)
}

func TestConnectCleartextAuth(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.AuthMethod = "cleartext"
	srv.Password = "s3cret"

	opts := serverOptions(srv)
	opts.Password = "s3cret"
	ch, err := transport.Connect(context.Background(), opts)
	require.NoError(t, err)
	ch.Close()
}

func TestConnectCleartextAuthBadPassword(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.AuthMethod = "cleartext"
	srv.Password = "s3cret"

	opts := serverOptions(srv)
	opts.Password = "wrong"
	_, err := transport.Connect(context.Background(), opts)
	require.Error(t, err)

	var se *protocol.ServerError
	if assert.ErrorAs(t, err, &se) {
		assert.Equal(t, "28P01", se.Code)
		assert.True(t, se.Fatal())
	}
}

func TestConnectMD5Auth(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.AuthMethod = "md5"
	srv.Password = "hunter2"

	opts := serverOptions(srv)
	opts.Password = "hunter2"
	ch, err := transport.Connect(context.Background(), opts)
	require.NoError(t, err)
	ch.Close()
}

func TestConnectDialFailure(t *testing.T) {
	opts := transport.Options{
		Host:        "127.0.0.1",
		Port:        1, // nothing listens here
		User:        "alice",
		DialTimeout: 500 * time.Millisecond,
	}
	_, err := transport.Connect(context.Background(), opts)
	assert.Error(t, err)
}

func TestCancelUsesThrowawayConnection(t *testing.T) {
	srv := testutil.NewServer(t)

	ch, err := transport.Connect(context.Background(), serverOptions(srv))
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Cancel(context.Background()))

	select {
	case key := <-srv.Cancelled():
		assert.Equal(t, ch.BackendKey(), key)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel request never reached the server")
	}
	// The original channel is untouched by the cancel side channel.
	assert.True(t, ch.IsAlive())
}

func TestChannelDeadAfterClose(t *testing.T) {
	srv := testutil.NewServer(t)

	ch, err := transport.Connect(context.Background(), serverOptions(srv))
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	assert.False(t, ch.IsAlive())
	err = ch.Send(context.Background(), protocol.NewWriteBuffer(protocol.MsgSync))
	assert.Error(t, err)
}

func TestReceiveHonorsContextDeadline(t *testing.T) {
	srv := testutil.NewServer(t)

	ch, err := transport.Connect(context.Background(), serverOptions(srv))
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Nothing is in flight, so the read must time out.
	_, _, err = ch.Receive(ctx)
	assert.Error(t, err)
}

func TestReceiveInterruptedByCancel(t *testing.T) {
	srv := testutil.NewServer(t)

	ch, err := transport.Connect(context.Background(), serverOptions(srv))
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	// A deadline-less context must still be able to interrupt a blocked
	// read. The forced interruption is fatal to the channel.
	_, _, err = ch.Receive(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ch.IsAlive())
}
