package camera

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stalledReader struct {
	unblock chan struct{}
}

func (r *stalledReader) Read() (image.Image, func(), error) {
	<-r.unblock
	return nil, nil, errors.New("driver gone")
}

type bufferReader struct {
	released int
}

func (r *bufferReader) Read() (image.Image, func(), error) {
	return image.NewGray(image.Rect(2, 2, 6, 5)), func() { r.released++ }, nil
}

func TestMediaStreamReadCopiesAndReleasesBuffer(t *testing.T) {
	reader := &bufferReader{}
	stream := &mediaStream{reader: reader, done: make(chan struct{})}

	img, err := stream.Read()
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	require.Equal(t, 1, reader.released)
}

func TestMediaStreamCloseUnblocksStalledRead(t *testing.T) {
	reader := &stalledReader{unblock: make(chan struct{})}
	defer close(reader.unblock)
	stream := &mediaStream{reader: reader, done: make(chan struct{})}

	errs := make(chan error, 1)
	go func() {
		_, err := stream.Read()
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, errStreamClosed)
	case <-time.After(time.Second):
		t.Fatal("read stayed blocked after close")
	}
}
