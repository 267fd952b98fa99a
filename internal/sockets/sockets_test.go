package sockets

import (
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripsAwkwardAddresses(t *testing.T) {
	keys := []string{Key("tcp", "127.0.0.1:8080"), Key("unix", "/tmp/a,b.sock")}
	decoded, err := Decode(Encode(keys))
	require.NoError(t, err)
	assert.Equal(t, keys, decoded)

	empty, err := Decode("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDecodeRejectsMalformedKeys(t *testing.T) {
	_, err := Decode("tcp")
	assert.Error(t, err)
	_, err = Decode("%zz")
	assert.Error(t, err)
}

func TestOwnerListenRecordsSharedFiles(t *testing.T) {
	owner := NewOwner()
	t.Cleanup(func() { _ = owner.Close() })

	ln, err := owner.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	again, err := owner.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Same(t, ln, again, "repeated Listen returns the recorded listener")

	assert.Equal(t, []string{"tcp/127.0.0.1:0"}, owner.Keys())
	assert.Len(t, owner.Files(), 1)
	assert.Equal(t, EnvSockets+"=tcp%2F127.0.0.1%3A0", owner.Env())
}

func TestInheritedSetAcceptsOnSharedSocket(t *testing.T) {
	owner := NewOwner()
	t.Cleanup(func() { _ = owner.Close() })
	_, err := owner.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	// Duplicate the shared descriptor the way exec would hand it to a child.
	shared := owner.Files()[0]
	dup, err := syscall.Dup(int(shared.Fd()))
	require.NoError(t, err)

	child, err := inherit(Encode(owner.Keys()), func(int) uintptr { return uintptr(dup) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = child.Close() })
	assert.Equal(t, Inherited, child.Mode())

	ln, err := child.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	accepted := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			accepted <- err
			return
		}
		_, err = io.WriteString(conn, "hi")
		conn.Close()
		accepted <- err
	}()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	buf, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf))
	require.NoError(t, <-accepted)
}

func TestInheritedSetRejectsUnknownListener(t *testing.T) {
	child, err := inherit(Encode([]string{Key("tcp", ":9000")}), func(int) uintptr { return 1000 })
	require.NoError(t, err)

	_, err = child.Listen("tcp", ":9001")
	assert.True(t, errors.Is(err, ErrNotShared), "got %v", err)
}

func TestPlainSetSharesNothing(t *testing.T) {
	plain := NewPlain()
	t.Cleanup(func() { _ = plain.Close() })
	_, err := plain.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Empty(t, plain.Files())
	assert.Empty(t, plain.Keys())
}

func TestInheritDescriptorNumbering(t *testing.T) {
	s, err := Inherit(Encode([]string{Key("tcp", ":1"), Key("tcp", ":2")}))
	require.NoError(t, err)
	assert.Equal(t, uintptr(3), s.fds["tcp/:1"])
	assert.Equal(t, uintptr(4), s.fds["tcp/:2"])
}
